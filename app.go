package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"word-finder/api"
	"word-finder/bot"
	"word-finder/config"
	"word-finder/feed"
	"word-finder/metrics"
	"word-finder/provider"
	"word-finder/scheduler"
	"word-finder/storage"
)

const (
	jobHomeFeed   = "home_feed"
	jobPruneCards = "prune_cards"
)

// App holds all application dependencies.
type App struct {
	cfg       *config.Config
	db        *storage.DB
	tracker   *metrics.Tracker
	builder   *feed.Builder
	tgBot     *tgbotapi.BotAPI
	scheduler *scheduler.Scheduler
	commands  *bot.CommandHandler
	reactions *bot.ReactionHandler
	chatID    int64
	mu        sync.RWMutex
	feeds     sync.WaitGroup
}

// newApp opens storage and wires the personalization core.
func newApp(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := storage.NewDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database %s: %w", cfg.DBPath, err)
	}
	slog.Info("database initialized", "path", cfg.DBPath)

	tracker, err := metrics.Open(ctx, &blobStore{db}, metrics.WithLikeBonus(cfg.LikeBonus))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load metrics: %w", err)
	}

	opts := []provider.Option{
		provider.WithTimeout(cfg.FetchTimeout()),
		provider.WithRateLimit(cfg.RequestsPerSecond, cfg.RequestBurst),
		provider.WithCircuitBreaker(cfg.BreakerFailures, cfg.BreakerTimeout()),
	}
	if cfg.DictionaryURL != "" {
		opts = append(opts, provider.WithDictionaryURL(cfg.DictionaryURL))
	}
	if cfg.FunFactURL != "" {
		opts = append(opts, provider.WithFunFactURL(cfg.FunFactURL))
	}
	if cfg.DateFactURL != "" {
		opts = append(opts, provider.WithDateFactURL(cfg.DateFactURL))
	}

	builder := feed.NewBuilder(
		provider.NewClient(opts...),
		tracker,
		&cardStore{db},
		feed.WithSlots(cfg.FeedSlots),
	)

	app := &App{
		cfg:     cfg,
		db:      db,
		tracker: tracker,
		builder: builder,
	}

	// Initialize chat ID from config or database
	if cfg.ChatID != 0 {
		app.chatID = cfg.ChatID
	} else if chatIDStr, err := db.GetSetting(ctx, bot.SettingChatID); err == nil {
		if id, err := strconv.ParseInt(chatIDStr, 10, 64); err == nil {
			app.chatID = id
		}
	}

	return app, nil
}

// Close waits for in-flight feeds and closes storage.
func (a *App) Close() error {
	a.feeds.Wait()
	return a.db.Close()
}

// serve runs every configured surface until ctx is canceled.
func (a *App) serve(ctx context.Context) error {
	sched, err := scheduler.NewScheduler(a.cfg.Timezone)
	if err != nil {
		return fmt.Errorf("initialize scheduler: %w", err)
	}
	a.scheduler = sched

	homeFeedTime := a.cfg.HomeFeedTime
	if storedTime, err := a.db.GetSetting(ctx, bot.SettingHomeFeedTime); err == nil {
		homeFeedTime = storedTime
	}
	if err := sched.ScheduleDaily(jobHomeFeed, homeFeedTime, func() { a.runHomeFeed(ctx) }); err != nil {
		return fmt.Errorf("schedule home feed: %w", err)
	}
	if err := sched.ScheduleSpec(jobPruneCards, "@daily", func() { a.pruneCards(ctx) }); err != nil {
		return fmt.Errorf("schedule card pruning: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	var wg sync.WaitGroup

	if a.cfg.HTTPAddr != "" {
		srv := &http.Server{
			Addr:              a.cfg.HTTPAddr,
			Handler:           api.NewServer(a.builder, a.tracker).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("http api listening", "addr", a.cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server failed", "error", err)
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("http shutdown failed", "error", err)
			}
			wg.Wait()
		}()
	}

	if a.cfg.TelegramToken != "" {
		if err := a.startTelegram(); err != nil {
			return err
		}
		slog.Info("starting bot polling")
		a.run(ctx)
		slog.Info("bot stopped")
		return nil
	}

	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

func (a *App) startTelegram() error {
	tgBot, err := tgbotapi.NewBotAPI(a.cfg.TelegramToken)
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}
	slog.Info("telegram bot initialized", "username", tgBot.Self.UserName)

	a.tgBot = tgBot
	a.commands = bot.NewCommandHandler(a, a.db, a, a, a.tracker, bot.Defaults{
		HomeFeedTime: a.cfg.HomeFeedTime,
		FeedSlots:    a.cfg.FeedSlots,
	})
	a.reactions = bot.NewReactionHandler(&cardLookup{a.db}, &feedbackRecorder{a.builder})
	return nil
}

func (a *App) run(ctx context.Context) {
	// Use manual getUpdates to support message reactions
	offset := 0
	timeout := 30

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := a.getUpdates(ctx, offset, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("failed to get updates", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, update := range updates {
			offset = update.UpdateID + 1
			a.handleUpdate(ctx, &update)
		}
	}
}

// chatTarget is the feed target a Telegram chat's cards are stored under.
func chatTarget(chatID int64) string {
	return "chat:" + strconv.FormatInt(chatID, 10)
}

// Update represents a Telegram update with reaction support.
type Update struct {
	UpdateID        int                     `json:"update_id"`
	Message         *tgbotapi.Message       `json:"message"`
	MessageReaction *MessageReaction        `json:"message_reaction"`
	CallbackQuery   *tgbotapi.CallbackQuery `json:"callback_query"`
}

// MessageReaction represents a reaction update from Telegram.
type MessageReaction struct {
	Chat        Chat           `json:"chat"`
	MessageID   int            `json:"message_id"`
	Date        int            `json:"date"`
	OldReaction []ReactionType `json:"old_reaction"`
	NewReaction []ReactionType `json:"new_reaction"`
}

// Chat represents a Telegram chat.
type Chat struct {
	ID int64 `json:"id"`
}

// ReactionType represents a reaction emoji.
type ReactionType struct {
	Type  string `json:"type"`
	Emoji string `json:"emoji"`
}

// addedEmojis returns the emojis in NewReaction that were not in OldReaction.
func (r *MessageReaction) addedEmojis() []string {
	old := make(map[string]bool, len(r.OldReaction))
	for _, o := range r.OldReaction {
		old[o.Emoji] = true
	}
	var added []string
	for _, n := range r.NewReaction {
		if n.Emoji != "" && !old[n.Emoji] {
			added = append(added, n.Emoji)
		}
	}
	return added
}

func (a *App) getUpdates(ctx context.Context, offset, timeout int) ([]Update, error) {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/getUpdates?offset=%d&timeout=%d&allowed_updates=%s",
		a.cfg.TelegramToken, offset, timeout, `["message","message_reaction","callback_query"]`)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: time.Duration(timeout+10) * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		OK     bool     `json:"ok"`
		Result []Update `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	if !result.OK {
		return nil, fmt.Errorf("telegram API returned not OK")
	}

	return result.Result, nil
}

func (a *App) handleUpdate(ctx context.Context, update *Update) {
	if update.Message != nil && update.Message.Text != "" {
		chatID := update.Message.Chat.ID
		slog.Info("received message", "chat_id", chatID, "text", update.Message.Text)
		if err := a.commands.Handle(ctx, chatID, update.Message.Text); err != nil {
			slog.Warn("command failed", "chat_id", chatID, "error", err)
		}
	}

	if update.MessageReaction != nil {
		chatID := update.MessageReaction.Chat.ID
		msgID := int64(update.MessageReaction.MessageID)
		for _, emoji := range update.MessageReaction.addedEmojis() {
			slog.Info("received reaction", "chat_id", chatID, "message_id", msgID, "emoji", emoji)
			if err := a.reactions.HandleReaction(ctx, chatID, msgID, emoji); err != nil {
				slog.Warn("failed to handle reaction", "chat_id", chatID, "message_id", msgID, "error", err)
			}
		}
	}

	if update.CallbackQuery != nil {
		a.handleCallback(ctx, update.CallbackQuery)
	}
}

func (a *App) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	answer, err := a.reactions.HandleCallback(ctx, cq.Data)
	if err != nil {
		slog.Warn("failed to handle callback", "data", cq.Data, "error", err)
		answer = "Something went wrong, please try again."
	}

	if _, err := a.tgBot.Request(tgbotapi.NewCallback(cq.ID, answer)); err != nil {
		slog.Warn("failed to answer callback", "error", err)
	}

	// Replace the prompt so it can only be answered once.
	if err == nil && answer != "" && cq.Message != nil {
		edit := tgbotapi.NewEditMessageText(cq.Message.Chat.ID, cq.Message.MessageID, answer)
		if _, err := a.tgBot.Request(edit); err != nil {
			slog.Warn("failed to close feedback prompt", "error", err)
		}
	}
}

// SendMessage sends a text message and returns its Telegram message ID.
func (a *App) SendMessage(ctx context.Context, chatID int64, text string, html bool) (int64, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if html {
		msg.ParseMode = tgbotapi.ModeHTML
	}

	sent, err := a.tgBot.Send(msg)
	if err != nil {
		slog.Warn("failed to send message", "chat_id", chatID, "error", err)
		return 0, err
	}
	return int64(sent.MessageID), nil
}

func (a *App) sendFeedbackPrompt(chatID int64, card *feed.Card) {
	msg := tgbotapi.NewMessage(chatID, bot.FeedbackPromptText(card.Type))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("👍 Yes", bot.FeedbackData(card.ID, true)),
			tgbotapi.NewInlineKeyboardButtonData("👎 No", bot.FeedbackData(card.ID, false)),
		),
	)
	if _, err := a.tgBot.Send(msg); err != nil {
		slog.Warn("failed to send feedback prompt", "chat_id", chatID, "card_id", card.ID, "error", err)
	}
}

// RunFeed starts a feed for chatID in the background. Concurrent feeds for
// the same chat resolve to the most recent one.
func (a *App) RunFeed(ctx context.Context, chatID int64, query string) error {
	a.mu.Lock()
	a.chatID = chatID
	a.mu.Unlock()

	a.feeds.Add(1)
	go func() {
		defer a.feeds.Done()
		a.buildFeed(ctx, chatID, query)
	}()
	return nil
}

// Reschedule moves the daily home feed.
func (a *App) Reschedule(timeStr string) error {
	return a.scheduler.Reschedule(jobHomeFeed, timeStr)
}

func (a *App) runHomeFeed(ctx context.Context) {
	a.mu.RLock()
	chatID := a.chatID
	a.mu.RUnlock()

	if chatID == 0 {
		slog.Warn("cannot run home feed: no chat_id set")
		return
	}
	if a.tgBot == nil {
		slog.Debug("skipping home feed: telegram disabled")
		return
	}

	a.buildFeed(ctx, chatID, "")
}

func (a *App) buildFeed(ctx context.Context, chatID int64, query string) {
	slots := a.cfg.FeedSlots
	if stored, err := a.db.GetSetting(ctx, bot.SettingFeedSlots); err == nil {
		if n, err := strconv.Atoi(stored); err == nil {
			slots = n
		}
	}

	_, err := a.builder.Build(ctx, feed.Params{
		Target: chatTarget(chatID),
		Query:  query,
		Slots:  slots,
	}, &telegramRenderer{app: a, chatID: chatID})

	switch {
	case err == nil:
	case errors.Is(err, feed.ErrSuperseded):
		slog.Debug("feed superseded", "chat_id", chatID, "query", query)
	case ctx.Err() != nil:
		slog.Info("feed canceled", "chat_id", chatID)
	default:
		slog.Error("feed failed", "chat_id", chatID, "query", query, "error", err)
	}
}

func (a *App) pruneCards(ctx context.Context) {
	cutoff := time.Now().Add(-a.cfg.CardRetention())
	n, err := a.db.PruneCards(ctx, cutoff)
	if err != nil {
		slog.Error("card pruning failed", "error", err)
		return
	}
	slog.Info("pruned old cards", "count", n, "cutoff", cutoff)
}
