package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"word-finder/content"
	"word-finder/metrics"
	"word-finder/ranker"
)

// Mock implementations for testing

type mockMessageSender struct {
	sentMessages []sentMessage
}

type sentMessage struct {
	chatID int64
	text   string
	html   bool
}

func (m *mockMessageSender) SendMessage(ctx context.Context, chatID int64, text string, html bool) (int64, error) {
	m.sentMessages = append(m.sentMessages, sentMessage{chatID, text, html})
	return int64(len(m.sentMessages)), nil
}

type mockSettingsStore struct {
	settings map[string]string
}

func newMockSettingsStore() *mockSettingsStore {
	return &mockSettingsStore{settings: make(map[string]string)}
}

func (m *mockSettingsStore) GetSetting(ctx context.Context, key string) (string, error) {
	if v, ok := m.settings[key]; ok {
		return v, nil
	}
	return "", ErrSettingNotFound
}

func (m *mockSettingsStore) SetSetting(ctx context.Context, key, value string) error {
	m.settings[key] = value
	return nil
}

type mockScheduleUpdater struct {
	scheduledTime string
}

func (m *mockScheduleUpdater) Reschedule(timeStr string) error {
	m.scheduledTime = timeStr
	return nil
}

type feedCall struct {
	chatID int64
	query  string
}

type mockFeedRunner struct {
	calls []feedCall
}

func (m *mockFeedRunner) RunFeed(ctx context.Context, chatID int64, query string) error {
	m.calls = append(m.calls, feedCall{chatID, query})
	return nil
}

type mockStats struct {
	record *metrics.Record
	ranked []ranker.RankedType
}

func (m *mockStats) Snapshot() *metrics.Record { return m.record }
func (m *mockStats) Rank() []ranker.RankedType { return m.ranked }

type messageKey struct {
	chatID, msgID int64
}

type mockCardLookup struct {
	cards map[messageKey]*CardInfo
}

func (m *mockCardLookup) GetCardByMessageID(ctx context.Context, chatID, msgID int64) (*CardInfo, error) {
	if c, ok := m.cards[messageKey{chatID, msgID}]; ok {
		return c, nil
	}
	return nil, ErrCardNotFound
}

type feedbackCall struct {
	cardID string
	liked  bool
}

type mockRecorder struct {
	calls []feedbackCall
	known map[string]bool
}

func (m *mockRecorder) RecordCardFeedback(ctx context.Context, cardID string, liked bool) error {
	if m.known != nil && !m.known[cardID] {
		return ErrCardNotFound
	}
	m.calls = append(m.calls, feedbackCall{cardID, liked})
	return nil
}

func newHandler(sender *mockMessageSender, settings SettingsStore, sched ScheduleUpdater, feeds FeedRunner, stats StatsProvider) *CommandHandler {
	return NewCommandHandler(sender, settings, sched, feeds, stats, Defaults{HomeFeedTime: "09:00", FeedSlots: 5})
}

// Tests

func TestHandleStartCommand(t *testing.T) {
	sender := &mockMessageSender{}
	settings := newMockSettingsStore()

	handler := newHandler(sender, settings, nil, nil, nil)
	ctx := context.Background()

	err := handler.HandleStart(ctx, 12345)
	if err != nil {
		t.Fatalf("HandleStart failed: %v", err)
	}

	// Should save chat_id
	chatID, err := settings.GetSetting(ctx, SettingChatID)
	if err != nil {
		t.Fatalf("chat_id not saved: %v", err)
	}
	if chatID != "12345" {
		t.Errorf("chat_id = %q, want '12345'", chatID)
	}

	if len(sender.sentMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sender.sentMessages))
	}
	if sender.sentMessages[0].chatID != 12345 {
		t.Errorf("message sent to wrong chat: %d", sender.sentMessages[0].chatID)
	}
}

func TestHandleRoutesCommands(t *testing.T) {
	tests := []struct {
		text      string
		wantQuery string
		wantFeed  bool
	}{
		{"/search cat", "cat", true},
		{"/search@finder_bot cat", "cat", true},
		{"dog", "dog", true},
		{"  hot dog  ", "hot dog", true},
		{"/home", "", true},
		{"/HOME", "", true},
		{"/unknown", "", false},
		{"   ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			sender := &mockMessageSender{}
			feeds := &mockFeedRunner{}
			handler := newHandler(sender, newMockSettingsStore(), nil, feeds, nil)

			if err := handler.Handle(context.Background(), 7, tt.text); err != nil {
				t.Fatalf("Handle failed: %v", err)
			}

			if !tt.wantFeed {
				if len(feeds.calls) != 0 {
					t.Errorf("unexpected feed: %+v", feeds.calls)
				}
				return
			}
			if len(feeds.calls) != 1 {
				t.Fatalf("expected 1 feed, got %d", len(feeds.calls))
			}
			if feeds.calls[0].query != tt.wantQuery || feeds.calls[0].chatID != 7 {
				t.Errorf("feed = %+v, want query %q in chat 7", feeds.calls[0], tt.wantQuery)
			}
		})
	}
}

func TestHandleSearchWithoutWord(t *testing.T) {
	sender := &mockMessageSender{}
	feeds := &mockFeedRunner{}
	handler := newHandler(sender, nil, nil, feeds, nil)

	if err := handler.Handle(context.Background(), 1, "/search"); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(feeds.calls) != 0 {
		t.Error("empty search should not build a feed")
	}
	if len(sender.sentMessages) != 1 || !strings.Contains(sender.sentMessages[0].text, "Usage") {
		t.Errorf("expected usage message, got %+v", sender.sentMessages)
	}
}

func TestHandleSettingsCommandDisplay(t *testing.T) {
	sender := &mockMessageSender{}
	settings := newMockSettingsStore()
	settings.settings[SettingHomeFeedTime] = "07:45"
	settings.settings[SettingFeedSlots] = "8"

	handler := newHandler(sender, settings, nil, nil, nil)
	ctx := context.Background()

	if err := handler.HandleSettings(ctx, 12345, ""); err != nil {
		t.Fatalf("HandleSettings failed: %v", err)
	}

	if len(sender.sentMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sender.sentMessages))
	}

	msg := sender.sentMessages[0].text
	if !strings.Contains(msg, "07:45") || !strings.Contains(msg, "8") {
		t.Errorf("settings message should contain current values, got: %s", msg)
	}
}

func TestHandleSettingsCommandDisplayDefaults(t *testing.T) {
	sender := &mockMessageSender{}
	handler := newHandler(sender, newMockSettingsStore(), nil, nil, nil)

	if err := handler.HandleSettings(context.Background(), 1, ""); err != nil {
		t.Fatalf("HandleSettings failed: %v", err)
	}

	msg := sender.sentMessages[0].text
	if !strings.Contains(msg, "09:00") || !strings.Contains(msg, "5") {
		t.Errorf("settings message should fall back to defaults, got: %s", msg)
	}
}

func TestHandleSettingsCommandUpdateTime(t *testing.T) {
	sender := &mockMessageSender{}
	settings := newMockSettingsStore()
	schedUpdater := &mockScheduleUpdater{}

	handler := newHandler(sender, settings, schedUpdater, nil, nil)
	ctx := context.Background()

	if err := handler.HandleSettings(ctx, 12345, "time 18:30"); err != nil {
		t.Fatalf("HandleSettings failed: %v", err)
	}

	newTime, _ := settings.GetSetting(ctx, SettingHomeFeedTime)
	if newTime != "18:30" {
		t.Errorf("home_feed_time = %q, want '18:30'", newTime)
	}

	if schedUpdater.scheduledTime != "18:30" {
		t.Errorf("scheduler not updated with new time")
	}
}

func TestHandleSettingsCommandUpdateSlots(t *testing.T) {
	sender := &mockMessageSender{}
	settings := newMockSettingsStore()

	handler := newHandler(sender, settings, nil, nil, nil)
	ctx := context.Background()

	if err := handler.HandleSettings(ctx, 12345, "slots 12"); err != nil {
		t.Fatalf("HandleSettings failed: %v", err)
	}

	slots, _ := settings.GetSetting(ctx, SettingFeedSlots)
	if slots != "12" {
		t.Errorf("feed_slots = %q, want '12'", slots)
	}
}

func TestHandleSettingsCommandInvalid(t *testing.T) {
	tests := []string{"slots 0", "slots 21", "slots many", "time 25:00", "time 9:00", "colour red", "time"}

	for _, args := range tests {
		t.Run(args, func(t *testing.T) {
			sender := &mockMessageSender{}
			settings := newMockSettingsStore()
			sched := &mockScheduleUpdater{}
			handler := newHandler(sender, settings, sched, nil, nil)

			if err := handler.HandleSettings(context.Background(), 1, args); err != nil {
				t.Fatalf("HandleSettings failed: %v", err)
			}

			if len(sender.sentMessages) != 1 {
				t.Fatalf("expected 1 message, got %d", len(sender.sentMessages))
			}
			if len(settings.settings) != 0 {
				t.Errorf("invalid input should not change settings: %v", settings.settings)
			}
			if sched.scheduledTime != "" {
				t.Errorf("invalid input should not reschedule")
			}
		})
	}
}

func TestHandleStatsCommand(t *testing.T) {
	sender := &mockMessageSender{}
	record := metrics.NewRecord()
	record.Clicks = 4
	record.PreferredType = content.FunFact
	record.RecentSearches = []string{"cat", "dog"}
	record.LastQuery = "dog"
	record.Feedback = []metrics.Feedback{{Type: content.FunFact, Liked: true}}
	for _, w := range []string{"dog", "bark", "bark", "loud"} {
		record.RelatedWords.Add(w)
	}

	stats := &mockStats{
		record: record,
		ranked: []ranker.RankedType{
			{Type: content.FunFact, Engagement: 2.2, FeedbackBonus: 5, FinalScore: 7.2},
			{Type: content.Definition, Engagement: 3, FinalScore: 3},
			{Type: content.DateFact, FinalScore: 0},
		},
	}

	handler := newHandler(sender, nil, nil, nil, stats)
	if err := handler.HandleStats(context.Background(), 12345); err != nil {
		t.Fatalf("HandleStats failed: %v", err)
	}

	msg := sender.sentMessages[0].text
	for _, want := range []string{"1. fun fact (7.20) 👍 1", "2. definition (3.00)", "Preferred: fun fact", "cat, dog", "bark, loud"} {
		if !strings.Contains(msg, want) {
			t.Errorf("stats should contain %q, got: %s", want, msg)
		}
	}
	if strings.Contains(msg, "Top related words: dog") {
		t.Errorf("last query should not be recommended: %s", msg)
	}
}

func TestHandleStatsCommandNoCards(t *testing.T) {
	sender := &mockMessageSender{}
	stats := &mockStats{record: metrics.NewRecord()}

	handler := newHandler(sender, nil, nil, nil, stats)
	handler.HandleStats(context.Background(), 12345)

	msg := sender.sentMessages[0].text
	if !strings.Contains(msg, "No cards") {
		t.Errorf("empty stats should say no cards yet, got: %s", msg)
	}
}

func TestHandleReaction(t *testing.T) {
	lookup := &mockCardLookup{cards: map[messageKey]*CardInfo{
		{7, 100}: {ID: "card-1", Type: content.FunFact},
	}}
	recorder := &mockRecorder{}

	handler := NewReactionHandler(lookup, recorder)
	ctx := context.Background()

	if err := handler.HandleReaction(ctx, 7, 100, "👍"); err != nil {
		t.Fatalf("HandleReaction failed: %v", err)
	}
	if err := handler.HandleReaction(ctx, 7, 100, "👎"); err != nil {
		t.Fatalf("HandleReaction failed: %v", err)
	}

	want := []feedbackCall{{"card-1", true}, {"card-1", false}}
	if len(recorder.calls) != len(want) {
		t.Fatalf("calls = %+v, want %+v", recorder.calls, want)
	}
	for i := range want {
		if recorder.calls[i] != want[i] {
			t.Errorf("calls[%d] = %+v, want %+v", i, recorder.calls[i], want[i])
		}
	}
}

func TestHandleReactionOtherEmoji(t *testing.T) {
	handler := NewReactionHandler(nil, nil)
	ctx := context.Background()

	for _, emoji := range []string{"❤️", "🎉", ""} {
		if err := handler.HandleReaction(ctx, 7, 100, emoji); err != nil {
			t.Fatalf("unexpected error for %q: %v", emoji, err)
		}
	}
}

func TestHandleReactionUnknownMessage(t *testing.T) {
	lookup := &mockCardLookup{cards: map[messageKey]*CardInfo{}}
	recorder := &mockRecorder{}

	handler := NewReactionHandler(lookup, recorder)

	if err := handler.HandleReaction(context.Background(), 7, 999, "👍"); err != nil {
		t.Fatalf("unexpected error for unknown message: %v", err)
	}
	if len(recorder.calls) != 0 {
		t.Errorf("feedback recorded for unknown message: %+v", recorder.calls)
	}
}

func TestHandleReactionUsesReactingChat(t *testing.T) {
	lookup := &mockCardLookup{cards: map[messageKey]*CardInfo{
		{1, 42}: {ID: "chat-1-card", Type: content.DateFact},
		{2, 42}: {ID: "chat-2-card", Type: content.FunFact},
	}}
	recorder := &mockRecorder{}
	handler := NewReactionHandler(lookup, recorder)

	if err := handler.HandleReaction(context.Background(), 2, 42, "👍"); err != nil {
		t.Fatalf("HandleReaction failed: %v", err)
	}

	if len(recorder.calls) != 1 || recorder.calls[0].cardID != "chat-2-card" {
		t.Errorf("calls = %+v, want feedback for chat-2-card", recorder.calls)
	}
}

type failingLookup struct{}

func (failingLookup) GetCardByMessageID(ctx context.Context, chatID, msgID int64) (*CardInfo, error) {
	return nil, errors.New("disk on fire")
}

func TestHandleReactionLookupError(t *testing.T) {
	handler := NewReactionHandler(failingLookup{}, &mockRecorder{})

	if err := handler.HandleReaction(context.Background(), 7, 1, "👍"); err == nil {
		t.Error("expected lookup error to surface")
	}
}

func TestHandleCallback(t *testing.T) {
	recorder := &mockRecorder{known: map[string]bool{"card-1": true}}
	handler := NewReactionHandler(nil, recorder)
	ctx := context.Background()

	answer, err := handler.HandleCallback(ctx, FeedbackData("card-1", true))
	if err != nil {
		t.Fatalf("HandleCallback failed: %v", err)
	}
	if !strings.Contains(answer, "👍") {
		t.Errorf("answer = %q", answer)
	}

	answer, err = handler.HandleCallback(ctx, FeedbackData("card-1", false))
	if err != nil {
		t.Fatalf("HandleCallback failed: %v", err)
	}
	if !strings.Contains(answer, "👎") {
		t.Errorf("answer = %q", answer)
	}

	if len(recorder.calls) != 2 || !recorder.calls[0].liked || recorder.calls[1].liked {
		t.Errorf("calls = %+v", recorder.calls)
	}

	// Expired card
	answer, err = handler.HandleCallback(ctx, FeedbackData("gone", true))
	if err != nil {
		t.Fatalf("expired card should not error: %v", err)
	}
	if !strings.Contains(answer, "expired") {
		t.Errorf("answer = %q", answer)
	}

	// Foreign callback data is ignored
	answer, err = handler.HandleCallback(ctx, "other:thing")
	if err != nil || answer != "" {
		t.Errorf("foreign callback = %q, %v", answer, err)
	}
}

func TestParseFeedbackData(t *testing.T) {
	tests := []struct {
		data   string
		id     string
		liked  bool
		wantOK bool
	}{
		{"fb:abc:1", "abc", true, true},
		{"fb:abc:0", "abc", false, true},
		{"fb:a:b:1", "a:b", true, true},
		{"fb:abc:2", "", false, false},
		{"fb::1", "", false, false},
		{"fb:abc", "", false, false},
		{"xx:abc:1", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			id, liked, ok := ParseFeedbackData(tt.data)
			if ok != tt.wantOK || id != tt.id || liked != tt.liked {
				t.Errorf("ParseFeedbackData(%q) = %q, %v, %v; want %q, %v, %v",
					tt.data, id, liked, ok, tt.id, tt.liked, tt.wantOK)
			}
		})
	}
}

func TestFormatting(t *testing.T) {
	if got := FormatCard(content.FunFact, "Cats purr."); got != "FUNFACT:\nCats purr." {
		t.Errorf("FormatCard = %q", got)
	}
	if got := FormatRelated([]string{"a", "b", "c"}); got != "RECOMMENDED RELATED WORDS:\na, b, c" {
		t.Errorf("FormatRelated = %q", got)
	}
	if got := FeedbackPromptText(content.DateFact); got != "Did you enjoy the date fact?" {
		t.Errorf("FeedbackPromptText = %q", got)
	}
}
