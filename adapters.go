package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"word-finder/bot"
	"word-finder/content"
	"word-finder/feed"
	"word-finder/metrics"
	"word-finder/storage"
)

// Adapter types to bridge between storage and the package interfaces

type blobStore struct {
	db *storage.DB
}

func (b *blobStore) LoadBlob(ctx context.Context, key string) ([]byte, error) {
	data, err := b.db.GetBlob(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, metrics.ErrNoRecord
	}
	return data, err
}

func (b *blobStore) SaveBlob(ctx context.Context, key string, data []byte) error {
	return b.db.PutBlob(ctx, key, data)
}

type cardStore struct {
	db *storage.DB
}

func (s *cardStore) SaveCard(ctx context.Context, card *feed.Card) error {
	return s.db.SaveCard(ctx, &storage.Card{
		ID:         card.ID,
		Generation: card.Generation,
		Target:     card.Target,
		Slot:       card.Slot,
		Type:       string(card.Type),
		Query:      card.Query,
		Content:    card.Content,
	})
}

func (s *cardStore) GetCard(ctx context.Context, id string) (*feed.Card, error) {
	c, err := s.db.GetCard(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, feed.ErrCardNotFound
		}
		return nil, err
	}
	return &feed.Card{
		ID:         c.ID,
		Generation: c.Generation,
		Target:     c.Target,
		Slot:       c.Slot,
		Type:       content.Type(c.Type),
		Query:      c.Query,
		Content:    c.Content,
	}, nil
}

type cardLookup struct {
	db *storage.DB
}

func (l *cardLookup) GetCardByMessageID(ctx context.Context, chatID, msgID int64) (*bot.CardInfo, error) {
	c, err := l.db.GetCardByMessageID(ctx, chatTarget(chatID), msgID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, bot.ErrCardNotFound
		}
		return nil, err
	}
	return &bot.CardInfo{ID: c.ID, Type: content.Type(c.Type)}, nil
}

type feedbackRecorder struct {
	builder *feed.Builder
}

func (r *feedbackRecorder) RecordCardFeedback(ctx context.Context, cardID string, liked bool) error {
	card, err := r.builder.Feedback(ctx, cardID, liked)
	if err != nil {
		if errors.Is(err, feed.ErrCardNotFound) {
			return bot.ErrCardNotFound
		}
		return err
	}
	slog.Info("processed feedback", "card_id", card.ID, "type", card.Type, "liked", liked)
	return nil
}

// telegramRenderer delivers a committed feed to one chat.
type telegramRenderer struct {
	app    *App
	chatID int64
}

func (r *telegramRenderer) RenderCard(ctx context.Context, card *feed.Card) error {
	msgID, err := r.app.SendMessage(ctx, r.chatID, bot.FormatCard(card.Type, card.Content), false)
	if err != nil {
		return err
	}

	if err := r.app.db.MarkCardSent(ctx, card.ID, msgID); err != nil {
		slog.Warn("failed to mark card sent", "card_id", card.ID, "error", err)
	}

	if card.PromptFeedback {
		time.AfterFunc(r.app.cfg.FeedbackPromptDelay(), func() {
			r.app.sendFeedbackPrompt(r.chatID, card)
		})
	}
	return nil
}

func (r *telegramRenderer) RenderRelated(ctx context.Context, words []string) error {
	_, err := r.app.SendMessage(ctx, r.chatID, bot.FormatRelated(words), false)
	return err
}

// textRenderer prints a feed for the command line.
type textRenderer struct {
	w io.Writer
}

func (r *textRenderer) RenderCard(ctx context.Context, card *feed.Card) error {
	if _, err := fmt.Fprintf(r.w, "%s\n\n", bot.FormatCard(card.Type, card.Content)); err != nil {
		return err
	}
	if card.PromptFeedback {
		_, err := fmt.Fprintf(r.w, "%s (card %s)\n\n", bot.FeedbackPromptText(card.Type), card.ID)
		return err
	}
	return nil
}

func (r *textRenderer) RenderRelated(ctx context.Context, words []string) error {
	_, err := fmt.Fprintln(r.w, bot.FormatRelated(words))
	return err
}
