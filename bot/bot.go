package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"word-finder/content"
	"word-finder/metrics"
	"word-finder/ranker"
)

// Setting keys shared with main.
const (
	SettingChatID       = "chat_id"
	SettingHomeFeedTime = "home_feed_time"
	SettingFeedSlots    = "feed_slots"
)

const (
	thumbsUp   = "👍"
	thumbsDown = "👎"

	feedbackPrefix = "fb:"
	maxSlots       = 20
)

// Sentinel errors for dependency interfaces
var (
	ErrSettingNotFound = errors.New("setting not found")
	ErrCardNotFound    = errors.New("card not found")
)

// MessageSender sends messages to Telegram.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID int64, text string, html bool) (int64, error)
}

// SettingsStore manages persistent settings.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// ScheduleUpdater moves the daily home feed.
type ScheduleUpdater interface {
	Reschedule(timeStr string) error
}

// FeedRunner builds and delivers a feed to a chat. An empty query means
// the home feed.
type FeedRunner interface {
	RunFeed(ctx context.Context, chatID int64, query string) error
}

// StatsProvider exposes the engagement record.
type StatsProvider interface {
	Snapshot() *metrics.Record
	Rank() []ranker.RankedType
}

// CardLookup finds cards by the message they were sent as.
type CardLookup interface {
	GetCardByMessageID(ctx context.Context, chatID, msgID int64) (*CardInfo, error)
}

// FeedbackRecorder records a like or dislike for a card.
type FeedbackRecorder interface {
	RecordCardFeedback(ctx context.Context, cardID string, liked bool) error
}

// CardInfo holds card data needed for feedback handling.
type CardInfo struct {
	ID   string
	Type content.Type
}

// Defaults holds values used when a setting has never been changed.
type Defaults struct {
	HomeFeedTime string
	FeedSlots    int
}

var timeRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// CommandHandler handles bot commands.
type CommandHandler struct {
	sender       MessageSender
	settings     SettingsStore
	schedUpdater ScheduleUpdater
	feeds        FeedRunner
	stats        StatsProvider
	defaults     Defaults
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(
	sender MessageSender,
	settings SettingsStore,
	schedUpdater ScheduleUpdater,
	feeds FeedRunner,
	stats StatsProvider,
	defaults Defaults,
) *CommandHandler {
	return &CommandHandler{
		sender:       sender,
		settings:     settings,
		schedUpdater: schedUpdater,
		feeds:        feeds,
		stats:        stats,
		defaults:     defaults,
	}
}

// Handle routes a text message to the matching command. Text that is not
// a command is treated as a search.
func (h *CommandHandler) Handle(ctx context.Context, chatID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	cmd, args, _ := strings.Cut(text, " ")
	// Commands may arrive as /cmd@botname in groups.
	cmd, _, _ = strings.Cut(cmd, "@")

	switch strings.ToLower(cmd) {
	case "/start", "/help":
		return h.HandleStart(ctx, chatID)
	case "/search":
		return h.HandleSearch(ctx, chatID, args)
	case "/home":
		return h.HandleHome(ctx, chatID)
	case "/stats":
		return h.HandleStats(ctx, chatID)
	case "/settings":
		return h.HandleSettings(ctx, chatID, args)
	}

	if strings.HasPrefix(text, "/") {
		_, err := h.sender.SendMessage(ctx, chatID, "Unknown command. Send /help for the list.", false)
		return err
	}
	return h.HandleSearch(ctx, chatID, text)
}

// HandleStart handles the /start command.
func (h *CommandHandler) HandleStart(ctx context.Context, chatID int64) error {
	// Save chat ID
	if err := h.settings.SetSetting(ctx, SettingChatID, strconv.FormatInt(chatID, 10)); err != nil {
		return fmt.Errorf("save chat_id: %w", err)
	}

	msg := "Welcome to Word Finder! 🔎\n\n" +
		"Send any word to look it up, or use:\n" +
		"/search WORD - Definition, fun facts and date facts\n" +
		"/home - Your personalised home feed\n" +
		"/stats - What the feed has learned about you\n" +
		"/settings - View or update feed settings\n\n" +
		"React with 👍 or 👎 to cards to tune your feed!"

	_, err := h.sender.SendMessage(ctx, chatID, msg, false)
	return err
}

// HandleSearch handles /search and plain-text queries.
func (h *CommandHandler) HandleSearch(ctx context.Context, chatID int64, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		_, err := h.sender.SendMessage(ctx, chatID, "Usage: /search WORD", false)
		return err
	}
	return h.feeds.RunFeed(ctx, chatID, query)
}

// HandleHome handles the /home command.
func (h *CommandHandler) HandleHome(ctx context.Context, chatID int64) error {
	return h.feeds.RunFeed(ctx, chatID, "")
}

// HandleSettings handles the /settings command.
func (h *CommandHandler) HandleSettings(ctx context.Context, chatID int64, args string) error {
	args = strings.TrimSpace(args)

	// No args: display current settings
	if args == "" {
		return h.displaySettings(ctx, chatID)
	}

	parts := strings.SplitN(args, " ", 2)
	if len(parts) < 2 {
		return h.sendSettingsUsage(ctx, chatID)
	}

	subCmd := strings.ToLower(parts[0])
	value := strings.TrimSpace(parts[1])

	switch subCmd {
	case "time":
		return h.updateHomeFeedTime(ctx, chatID, value)
	case "slots":
		return h.updateFeedSlots(ctx, chatID, value)
	default:
		return h.sendSettingsUsage(ctx, chatID)
	}
}

func (h *CommandHandler) displaySettings(ctx context.Context, chatID int64) error {
	homeTime := h.defaults.HomeFeedTime
	if t, err := h.settings.GetSetting(ctx, SettingHomeFeedTime); err == nil {
		homeTime = t
	}

	slots := strconv.Itoa(h.defaults.FeedSlots)
	if s, err := h.settings.GetSetting(ctx, SettingFeedSlots); err == nil {
		slots = s
	}

	msg := fmt.Sprintf("Current Settings:\n\n"+
		"📅 Home Feed Time: %s\n"+
		"🃏 Cards per Feed: %s\n\n"+
		"Update with:\n"+
		"/settings time HH:MM\n"+
		"/settings slots N", homeTime, slots)

	_, err := h.sender.SendMessage(ctx, chatID, msg, false)
	return err
}

func (h *CommandHandler) updateHomeFeedTime(ctx context.Context, chatID int64, timeStr string) error {
	if !timeRegex.MatchString(timeStr) {
		_, err := h.sender.SendMessage(ctx, chatID, "Invalid time format. Use HH:MM (e.g., 09:00, 18:30)", false)
		return err
	}

	if err := h.settings.SetSetting(ctx, SettingHomeFeedTime, timeStr); err != nil {
		return fmt.Errorf("save home_feed_time: %w", err)
	}

	if h.schedUpdater != nil {
		if err := h.schedUpdater.Reschedule(timeStr); err != nil {
			return fmt.Errorf("reschedule home feed: %w", err)
		}
	}

	msg := fmt.Sprintf("✅ Home feed time updated to %s", timeStr)
	_, err := h.sender.SendMessage(ctx, chatID, msg, false)
	return err
}

func (h *CommandHandler) updateFeedSlots(ctx context.Context, chatID int64, slotsStr string) error {
	slots, err := strconv.Atoi(slotsStr)
	if err != nil || slots < 1 || slots > maxSlots {
		_, err := h.sender.SendMessage(ctx, chatID, fmt.Sprintf("Invalid slot count. Must be a number between 1 and %d.", maxSlots), false)
		return err
	}

	if err := h.settings.SetSetting(ctx, SettingFeedSlots, strconv.Itoa(slots)); err != nil {
		return fmt.Errorf("save feed_slots: %w", err)
	}

	msg := fmt.Sprintf("✅ Cards per feed updated to %d", slots)
	_, err = h.sender.SendMessage(ctx, chatID, msg, false)
	return err
}

func (h *CommandHandler) sendSettingsUsage(ctx context.Context, chatID int64) error {
	msg := "Usage:\n" +
		"/settings - Show current settings\n" +
		"/settings time HH:MM - Update home feed time\n" +
		fmt.Sprintf("/settings slots N - Update cards per feed (1-%d)", maxSlots)
	_, err := h.sender.SendMessage(ctx, chatID, msg, false)
	return err
}

// HandleStats handles the /stats command.
func (h *CommandHandler) HandleStats(ctx context.Context, chatID int64) error {
	_, err := h.sender.SendMessage(ctx, chatID, FormatStats(h.stats.Snapshot(), h.stats.Rank()), false)
	return err
}

// FormatStats renders the engagement record as a chat message.
func FormatStats(record *metrics.Record, ranked []ranker.RankedType) string {
	if record.Clicks == 0 {
		return "No cards seen yet! Send a word to get your first feed."
	}

	likes, dislikes := record.LikeCounts()

	var sb strings.Builder
	sb.WriteString("📊 Your Feed:\n\n")
	for i, rt := range ranked {
		sb.WriteString(fmt.Sprintf("%d. %s (%.2f) 👍 %d 👎 %d\n",
			i+1, rt.Type.Noun(), rt.FinalScore, likes[rt.Type], dislikes[rt.Type]))
	}
	sb.WriteString(fmt.Sprintf("\nPreferred: %s\n", record.PreferredType.Noun()))
	sb.WriteString(fmt.Sprintf("Cards seen: %d\n", record.Clicks))

	if len(record.RecentSearches) > 0 {
		sb.WriteString(fmt.Sprintf("Recent searches: %s\n", strings.Join(record.RecentSearches, ", ")))
	}
	if words := ranker.Recommend(record.RelatedWords.Entries(), record.LastQuery, ranker.DefaultRecommendLimit); len(words) > 0 {
		sb.WriteString(fmt.Sprintf("Top related words: %s\n", strings.Join(words, ", ")))
	}

	return strings.TrimRight(sb.String(), "\n")
}

// ReactionHandler turns reactions and prompt answers into feedback.
type ReactionHandler struct {
	cardLookup CardLookup
	recorder   FeedbackRecorder
}

// NewReactionHandler creates a new reaction handler.
func NewReactionHandler(cardLookup CardLookup, recorder FeedbackRecorder) *ReactionHandler {
	return &ReactionHandler{
		cardLookup: cardLookup,
		recorder:   recorder,
	}
}

// HandleReaction processes a newly added reaction emoji on a message in chatID.
func (h *ReactionHandler) HandleReaction(ctx context.Context, chatID, messageID int64, emoji string) error {
	var liked bool
	switch emoji {
	case thumbsUp:
		liked = true
	case thumbsDown:
		liked = false
	default:
		return nil
	}

	card, err := h.cardLookup.GetCardByMessageID(ctx, chatID, messageID)
	if err != nil {
		if errors.Is(err, ErrCardNotFound) {
			return nil // Silently ignore reactions to non-card messages
		}
		return fmt.Errorf("lookup card: %w", err)
	}

	if err := h.recorder.RecordCardFeedback(ctx, card.ID, liked); err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}
	return nil
}

// HandleCallback processes a feedback prompt button press and returns the
// text to acknowledge it with.
func (h *ReactionHandler) HandleCallback(ctx context.Context, data string) (string, error) {
	cardID, liked, ok := ParseFeedbackData(data)
	if !ok {
		return "", nil
	}

	if err := h.recorder.RecordCardFeedback(ctx, cardID, liked); err != nil {
		if errors.Is(err, ErrCardNotFound) {
			return "That card has expired.", nil
		}
		return "", fmt.Errorf("record feedback: %w", err)
	}

	if liked {
		return "Glad you liked it! 👍", nil
	}
	return "Thanks, we'll show less of that. 👎", nil
}

// FeedbackData encodes a prompt answer as inline button callback data.
func FeedbackData(cardID string, liked bool) string {
	verdict := "0"
	if liked {
		verdict = "1"
	}
	return feedbackPrefix + cardID + ":" + verdict
}

// ParseFeedbackData decodes callback data produced by FeedbackData.
func ParseFeedbackData(data string) (cardID string, liked bool, ok bool) {
	rest, found := strings.CutPrefix(data, feedbackPrefix)
	if !found {
		return "", false, false
	}
	i := strings.LastIndex(rest, ":")
	if i <= 0 {
		return "", false, false
	}
	switch rest[i+1:] {
	case "1":
		return rest[:i], true, true
	case "0":
		return rest[:i], false, true
	}
	return "", false, false
}

// FeedbackPromptText asks whether the user enjoyed a card of type t.
func FeedbackPromptText(t content.Type) string {
	return fmt.Sprintf("Did you enjoy the %s?", t.Noun())
}

// FormatCard formats a card for display.
func FormatCard(t content.Type, text string) string {
	return fmt.Sprintf("%s:\n%s", t.Label(), text)
}

// FormatRelated formats recommended related words.
func FormatRelated(words []string) string {
	return "RECOMMENDED RELATED WORDS:\n" + strings.Join(words, ", ")
}
