package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/recapbot/recapbot/internal/config"
	"github.com/recapbot/recapbot/internal/database"
	"github.com/recapbot/recapbot/internal/summarizer"
)

type fakeStore struct {
	database.Store

	active     []database.ActiveChannel
	messages   map[string][]database.ChatLine // keyed by channel id
	categories map[string]string              // channel id -> category name
}

func (s *fakeStore) GetActiveChannelsInRange(_ context.Context, _, _ time.Time, serverID string) ([]database.ActiveChannel, error) {
	var out []database.ActiveChannel
	for _, ch := range s.active {
		if serverID == "" || ch.ServerID == serverID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (s *fakeStore) GetMessagesInRange(_ context.Context, _, _ time.Time, filter database.ChannelFilter, _ string) ([]database.ChatLine, error) {
	return s.messages[filter.ChannelID], nil
}

func (s *fakeStore) GetChannelCategory(_ context.Context, channelID, _, _ string) (string, string, error) {
	if name, ok := s.categories[channelID]; ok {
		return "cat-" + channelID, name, nil
	}
	return "", "", nil
}

type fakeSummarizer struct {
	failFor map[string]bool
}

func (f *fakeSummarizer) Summarize(_ context.Context, lines []database.ChatLine, channelName string) (string, error) {
	if f.failFor[channelName] {
		return "", errors.New("model unavailable")
	}
	return fmt.Sprintf("summary of %s (%d lines)", channelName, len(lines)), nil
}

type fakeMessenger struct {
	channels map[string]string // "serverID/name" -> channel id
	sent     map[string][]string
	sendErr  map[string]error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		channels: make(map[string]string),
		sent:     make(map[string][]string),
		sendErr:  make(map[string]error),
	}
}

func (m *fakeMessenger) FindChannel(serverID, name string) (string, bool) {
	id, ok := m.channels[serverID+"/"+name]
	return id, ok
}

func (m *fakeMessenger) FindAnyChannel(name string) (string, bool) {
	for key, id := range m.channels {
		if strings.HasSuffix(key, "/"+name) {
			return id, true
		}
	}
	return "", false
}

func (m *fakeMessenger) Send(_ context.Context, channelID, content string) error {
	if err := m.sendErr[channelID]; err != nil {
		return err
	}
	m.sent[channelID] = append(m.sent[channelID], content)
	return nil
}

func testDeps(store *fakeStore, sum *fakeSummarizer, msgr *fakeMessenger) TaskDeps {
	return TaskDeps{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:      store,
		Summarizer: sum,
		Messenger:  msgr,
		Config: &config.Config{
			Summary: config.SummaryConfig{Channel: "recaps", Hour: 20},
		},
		Now: func() time.Time { return time.Date(2024, 5, 3, 20, 0, 0, 0, time.UTC) },
	}
}

func TestDailySummaryGroupsByServer(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		active: []database.ActiveChannel{
			{ServerID: "s1", ServerName: "Alpha", ChannelID: "c1", ChannelName: "general"},
			{ServerID: "s1", ServerName: "Alpha", ChannelID: "c2", ChannelName: "random"},
			{ServerID: "s2", ServerName: "Beta", ChannelID: "c3", ChannelName: "general"},
		},
		messages: map[string][]database.ChatLine{
			"c1": {{Author: "alice", Content: "hi"}},
			"c2": {{Author: "bob", Content: "yo"}, {Author: "alice", Content: "hey"}},
			"c3": {{Author: "carol", Content: "hello"}},
		},
	}
	msgr := newFakeMessenger()
	msgr.channels["s1/recaps"] = "out1"
	msgr.channels["s2/recaps"] = "out2"

	task := newDailySummaryTask(testDeps(store, &fakeSummarizer{}, msgr))
	if err := task(context.Background()); err != nil {
		t.Fatalf("task failed: %v", err)
	}

	if len(msgr.sent["out1"]) != 1 || len(msgr.sent["out2"]) != 1 {
		t.Fatalf("expected one recap per server, got %+v", msgr.sent)
	}

	alpha := msgr.sent["out1"][0]
	if !strings.Contains(alpha, "(through 20:00 UTC): 3 messages in 2 channels") {
		t.Errorf("expected header totals, got %q", alpha)
	}
	if !strings.Contains(alpha, "**#general** (1 messages):") ||
		!strings.Contains(alpha, "**#random** (2 messages):") {
		t.Errorf("alpha recap missing channel blocks: %q", alpha)
	}
	if strings.Contains(alpha, "carol") || strings.Contains(msgr.sent["out2"][0], "random") {
		t.Error("recap content leaked across servers")
	}
}

func TestDailySummaryNoActivityNotice(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	msgr := newFakeMessenger()
	msgr.channels["s1/recaps"] = "out1"

	task := newDailySummaryTask(testDeps(store, &fakeSummarizer{}, msgr))
	if err := task(context.Background()); err != nil {
		t.Fatalf("task failed: %v", err)
	}

	if len(msgr.sent["out1"]) != 1 || !strings.Contains(msgr.sent["out1"][0], "No activity") {
		t.Errorf("expected a no-activity notice, got %+v", msgr.sent)
	}
}

func TestDailySummaryFallsBackOnSummarizerFault(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		active: []database.ActiveChannel{
			{ServerID: "s1", ChannelID: "c1", ChannelName: "broken"},
			{ServerID: "s1", ChannelID: "c2", ChannelName: "healthy"},
		},
		messages: map[string][]database.ChatLine{
			"c1": {{Author: "alice", Content: "hi"}},
			"c2": {{Author: "bob", Content: "yo"}},
		},
	}
	msgr := newFakeMessenger()
	msgr.channels["s1/recaps"] = "out1"

	task := newDailySummaryTask(testDeps(store, &fakeSummarizer{failFor: map[string]bool{"broken": true}}, msgr))
	if err := task(context.Background()); err != nil {
		t.Fatalf("task failed: %v", err)
	}

	recap := msgr.sent["out1"][0]
	if !strings.Contains(recap, summarizer.FallbackMessage) {
		t.Errorf("expected fallback text for the broken channel, got %q", recap)
	}
	if !strings.Contains(recap, "summary of healthy") {
		t.Errorf("expected the healthy channel to still be summarized, got %q", recap)
	}
}

func TestDailySummarySkipsServerWithoutRecapChannel(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		active: []database.ActiveChannel{
			{ServerID: "s1", ChannelID: "c1", ChannelName: "general"},
			{ServerID: "s2", ChannelID: "c2", ChannelName: "general"},
		},
		messages: map[string][]database.ChatLine{
			"c1": {{Author: "alice", Content: "hi"}},
			"c2": {{Author: "bob", Content: "yo"}},
		},
	}
	msgr := newFakeMessenger()
	msgr.channels["s2/recaps"] = "out2"

	task := newDailySummaryTask(testDeps(store, &fakeSummarizer{}, msgr))
	if err := task(context.Background()); err != nil {
		t.Fatalf("expected missing recap channel to be skipped, got error: %v", err)
	}

	if len(msgr.sent["out2"]) != 1 {
		t.Errorf("expected the configured server to still get its recap, got %+v", msgr.sent)
	}
}

func TestDailySummaryEmptyWindowNoticePerServer(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		active: []database.ActiveChannel{
			{ServerID: "s1", ChannelID: "c1", ChannelName: "general"},
		},
		// Active channel listed but range query returns nothing, as can
		// happen when rows race the two queries.
		messages: map[string][]database.ChatLine{},
	}
	msgr := newFakeMessenger()
	msgr.channels["s1/recaps"] = "out1"

	task := newDailySummaryTask(testDeps(store, &fakeSummarizer{}, msgr))
	if err := task(context.Background()); err != nil {
		t.Fatalf("task failed: %v", err)
	}

	if len(msgr.sent["out1"]) != 1 || !strings.Contains(msgr.sent["out1"][0], summarizer.EmptyMessage) {
		t.Errorf("expected an empty-recap notice, got %+v", msgr.sent)
	}
}

func TestDailySummaryIncludesCategoryLabel(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		active: []database.ActiveChannel{
			{ServerID: "s1", ChannelID: "c1", ChannelName: "general"},
		},
		messages: map[string][]database.ChatLine{
			"c1": {{Author: "alice", Content: "hi"}},
		},
		categories: map[string]string{"c1": "Community"},
	}
	msgr := newFakeMessenger()
	msgr.channels["s1/recaps"] = "out1"

	task := newDailySummaryTask(testDeps(store, &fakeSummarizer{}, msgr))
	if err := task(context.Background()); err != nil {
		t.Fatalf("task failed: %v", err)
	}

	if !strings.Contains(msgr.sent["out1"][0], "**#general (Community)**") {
		t.Errorf("expected category in channel label, got %q", msgr.sent["out1"][0])
	}
}

func TestDailySummaryIsolatesDeliveryFailures(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		active: []database.ActiveChannel{
			{ServerID: "s1", ChannelID: "c1", ChannelName: "general"},
			{ServerID: "s2", ChannelID: "c2", ChannelName: "general"},
		},
		messages: map[string][]database.ChatLine{
			"c1": {{Author: "alice", Content: "hi"}},
			"c2": {{Author: "bob", Content: "yo"}},
		},
	}
	msgr := newFakeMessenger()
	msgr.channels["s1/recaps"] = "out1"
	msgr.channels["s2/recaps"] = "out2"
	msgr.sendErr["out1"] = errors.New("delivery refused")

	task := newDailySummaryTask(testDeps(store, &fakeSummarizer{}, msgr))
	err := task(context.Background())
	if err == nil {
		t.Fatal("expected the failed server to surface an error")
	}
	if len(msgr.sent["out2"]) != 1 {
		t.Errorf("expected the healthy server to still get its recap, got %+v", msgr.sent)
	}
}
