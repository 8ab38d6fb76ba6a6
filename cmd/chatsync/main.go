package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"chatsync/internal/authflow"
	"chatsync/internal/cache"
	"chatsync/internal/chatlist"
	"chatsync/internal/config"
	"chatsync/internal/conversation"
	"chatsync/internal/domain"
	"chatsync/internal/reconcile"
	"chatsync/internal/session"
	"chatsync/internal/telegram"
)

// logSink reports new-message notifications through the logger; a real
// shell would schedule local notifications here.
type logSink struct {
	logger *zap.Logger
}

func (s logSink) Notify(chatID int64, preview string) {
	s.logger.Info("new message", zap.Int64("chat", chatID), zap.String("preview", preview))
}

func main() {
	cfgDir := config.Dir()
	cfgPath := filepath.Join(cfgDir, "config.yaml")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config from %s: %v\n", cfgPath, err)
		fmt.Fprintf(os.Stderr, "\nCreate the config file with:\n")
		fmt.Fprintf(os.Stderr, "  mkdir -p %s\n", cfgDir)
		fmt.Fprintf(os.Stderr, "  cat > %s << 'EOF'\n", cfgPath)
		fmt.Fprintf(os.Stderr, "telegram:\n  api_id: YOUR_API_ID\n  api_hash: \"YOUR_API_HASH\"\nEOF\n")
		fmt.Fprintf(os.Stderr, "\nGet API credentials from https://my.telegram.org\n")
		os.Exit(1)
	}

	logPath := filepath.Join(cfgDir, "chatsync.log")
	logCfg := zap.NewDevelopmentConfig()
	logCfg.OutputPaths = []string{logPath}
	logCfg.ErrorOutputPaths = []string{logPath}
	logger, err := logCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	creds, err := session.Open(filepath.Join(cfgDir, "session"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open session store: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	store := cache.New()
	tgClient := telegram.NewClient(cfg.Telegram.APIID, cfg.Telegram.APIHash, creds, logger.Named("telegram"))

	auth := authflow.New(tgClient, creds, logger.Named("auth"))
	chats := chatlist.New(store, tgClient, domain.ChatListMain, logger.Named("chatlist"))
	chats.SetPageSize(cfg.ChatPageSize)
	defer chats.Close()

	rec := reconcile.New(store, logSink{logger: logger.Named("notify")}, auth.HandleState, logger.Named("reconcile"))

	// Conversations are opened lazily as activity arrives; an
	// interactive shell would open them as the user navigates instead.
	var convMu sync.Mutex
	convs := make(map[int64]*conversation.Controller)
	conversationFor := func(chatID int64) *conversation.Controller {
		convMu.Lock()
		defer convMu.Unlock()
		conv, ok := convs[chatID]
		if !ok {
			conv = conversation.New(store, tgClient, chatID, logger.Named("conversation"))
			conv.SetPageSize(cfg.HistoryPageSize)
			convs[chatID] = conv
		}
		return conv
	}
	defer func() {
		convMu.Lock()
		for _, conv := range convs {
			conv.Close()
		}
		convMu.Unlock()
	}()

	rec.OnTyping(func(ev domain.UserTyping) {
		conversationFor(ev.ChatID).HandleTyping(ev)
	})

	auth.OnAuthorized(func() {
		rec.SetUnlocked(true)
		go func() {
			if err := chats.Refresh(ctx); err != nil {
				logger.Warn("initial chat list fetch failed", zap.Error(err))
			}
		}()
	})
	auth.OnLogout(func() {
		rec.SetUnlocked(false)
		store.Reset()
	})

	chats.OnChange(func() {
		logger.Debug("chat list changed", zap.Int("visible", len(chats.Visible())))
	})

	go func() {
		if err := rec.Run(ctx, tgClient.Events()); err != nil && ctx.Err() == nil {
			logger.Error("reconciler stopped", zap.Error(err))
		}
	}()

	// Keep the client connected until shutdown, backing off between
	// reconnect attempts.
	policy := backoff.WithContext(backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(0)), ctx)
	err = backoff.Retry(func() error {
		if err := tgClient.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			logger.Warn("client disconnected, retrying", zap.Error(err))
			return err
		}
		return nil
	}, policy)
	if err != nil && ctx.Err() == nil {
		logger.Error("client terminated", zap.Error(err))
		os.Exit(1)
	}
}
