package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"subtrack/internal/ai"
	apperrors "subtrack/internal/errors"
	"subtrack/internal/models"
	"subtrack/internal/testutil"
)

// fakeProvider replies with a canned completion and records what it was sent.
type fakeProvider struct {
	kind    models.AIProviderKind
	reply   string
	err     error
	models  []string
	lastReq ai.CompletionRequest
	calls   int
}

func (p *fakeProvider) Kind() models.AIProviderKind { return p.kind }

func (p *fakeProvider) Complete(_ context.Context, req ai.CompletionRequest) (*ai.Completion, error) {
	p.calls++
	p.lastReq = req
	if p.err != nil {
		return nil, p.err
	}
	return &ai.Completion{Text: p.reply, Model: "fake-model"}, nil
}

func (p *fakeProvider) ListModels(_ context.Context) ([]string, error) {
	p.calls++
	return p.models, p.err
}

type aiFixture struct {
	db       *gorm.DB
	settings *aiSettingsService
	svc      *aiService
	provider *fakeProvider
	opts     ai.Options
	built    int
	user     *models.User
	admin    *models.User
}

func newAIFixture(t *testing.T) (*aiFixture, func()) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	f := &aiFixture{
		db:       db,
		settings: NewAISettingsService(db, newTestSealer(t), "").(*aiSettingsService),
		provider: &fakeProvider{},
	}
	factory := func(kind models.AIProviderKind, opts ai.Options) (ai.Provider, error) {
		f.built++
		f.opts = opts
		f.provider.kind = kind
		return f.provider, nil
	}
	f.svc = NewAIService(f.settings, NewSubscriptionService(db), factory, time.Second, 500*time.Millisecond).(*aiService)
	f.user = testutil.CreateTestUser(t, db)
	f.admin = testutil.CreateTestAdmin(t, db)
	return f, func() { testutil.TeardownTestDB(t, db) }
}

func (f *aiFixture) enableClaude(t *testing.T, in ProviderSettingsInput) {
	t.Helper()
	in.APIKey = strPtr("sk-ant-test")
	in.Enabled = boolPtr(true)
	if _, err := f.settings.UpdateProvider(f.admin.ID, models.AIProviderClaude, in); err != nil {
		t.Fatalf("enable claude: %v", err)
	}
}

func TestAIService_FeatureDisabled(t *testing.T) {
	t.Run("ai_off", func(t *testing.T) {
		f, done := newAIFixture(t)
		defer done()

		_, err := f.svc.AnalyzeSpending(context.Background(), f.user.ID)
		testutil.AssertAppError(t, err, "FEATURE_DISABLED")
		if f.built != 0 || f.provider.calls != 0 {
			t.Errorf("expected no provider use, built=%d calls=%d", f.built, f.provider.calls)
		}
	})

	t.Run("flag_off_checked_before_lookup", func(t *testing.T) {
		f, done := newAIFixture(t)
		defer done()
		f.enableClaude(t, ProviderSettingsInput{FeatureAlternatives: boolPtr(false)})

		// an unknown subscription would be SUBSCRIPTION_NOT_FOUND if looked up
		_, err := f.svc.FindAlternatives(context.Background(), f.user.ID, "00000000-0000-0000-0000-000000000000")
		testutil.AssertAppError(t, err, "FEATURE_DISABLED")
		if f.built != 0 {
			t.Errorf("expected no provider built, got %d", f.built)
		}
	})

	t.Run("no_network", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)

		var hits int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		settings := NewAISettingsService(db, newTestSealer(t), "")
		admin := testutil.CreateTestAdmin(t, db)
		user := testutil.CreateTestUser(t, db)
		_, err := settings.UpdateProvider(admin.ID, models.AIProviderOllama, ProviderSettingsInput{
			Enabled:             boolPtr(true),
			BaseURL:             strPtr(server.URL),
			FeatureAlternatives: boolPtr(false),
		})
		testutil.AssertNoError(t, err)
		sub := testutil.CreateTestSubscription(t, db, user.ID)

		svc := NewAIService(settings, NewSubscriptionService(db), ai.New, time.Second, time.Second)
		_, err = svc.FindAlternatives(context.Background(), user.ID, sub.ID)
		testutil.AssertAppError(t, err, "FEATURE_DISABLED")
		if n := atomic.LoadInt32(&hits); n != 0 {
			t.Errorf("expected zero network calls, got %d", n)
		}
	})
}

func TestAIService_Features(t *testing.T) {
	f, done := newAIFixture(t)
	defer done()

	flags, err := f.svc.Features()
	testutil.AssertNoError(t, err)
	if flags != (FeatureFlags{}) {
		t.Errorf("expected all false while disabled, got %+v", flags)
	}

	f.enableClaude(t, ProviderSettingsInput{FeatureChat: boolPtr(false)})
	flags, err = f.svc.Features()
	testutil.AssertNoError(t, err)
	want := FeatureFlags{Alternatives: true, Chat: false, Analysis: true, Recommendations: true}
	if flags != want {
		t.Errorf("flags = %+v, want %+v", flags, want)
	}
}

func TestAIService_FindAlternatives(t *testing.T) {
	t.Run("parses_reply", func(t *testing.T) {
		f, done := newAIFixture(t)
		defer done()
		f.enableClaude(t, ProviderSettingsInput{})
		sub := testutil.CreateTestSubscription(t, f.db, f.user.ID, testutil.WithName("Spotify"))
		f.provider.reply = "Here you go:\n```json\n" +
			`[{"name": "YouTube Music", "description": "Music streaming", "price": 10.99, "differences": "Bundled video"}]` +
			"\n```"

		alts, err := f.svc.FindAlternatives(context.Background(), f.user.ID, sub.ID)
		testutil.AssertNoError(t, err)
		if len(alts) != 1 || alts[0].Name != "YouTube Music" || alts[0].Price != "10.99" {
			t.Errorf("unexpected alternatives %+v", alts)
		}
		if f.provider.calls != 1 {
			t.Errorf("expected exactly one call, got %d", f.provider.calls)
		}
		if !strings.Contains(f.provider.lastReq.Prompt, "Spotify") {
			t.Errorf("prompt does not name the subscription: %s", f.provider.lastReq.Prompt)
		}
		if f.opts.APIKey != "sk-ant-test" || f.opts.Model != ai.DefaultClaudeModel || f.opts.Timeout != time.Second {
			t.Errorf("unexpected provider options: model=%s timeout=%s", f.opts.Model, f.opts.Timeout)
		}
	})

	t.Run("other_users_subscription", func(t *testing.T) {
		f, done := newAIFixture(t)
		defer done()
		f.enableClaude(t, ProviderSettingsInput{})
		sub := testutil.CreateTestSubscription(t, f.db, f.admin.ID)

		_, err := f.svc.FindAlternatives(context.Background(), f.user.ID, sub.ID)
		testutil.AssertAppError(t, err, "SUBSCRIPTION_NOT_FOUND")
		if f.provider.calls != 0 {
			t.Error("expected no provider call")
		}
	})

	t.Run("malformed_reply", func(t *testing.T) {
		f, done := newAIFixture(t)
		defer done()
		f.enableClaude(t, ProviderSettingsInput{})
		sub := testutil.CreateTestSubscription(t, f.db, f.user.ID)
		f.provider.reply = "I cannot help with that."

		_, err := f.svc.FindAlternatives(context.Background(), f.user.ID, sub.ID)
		testutil.AssertAppError(t, err, "MALFORMED_RESPONSE")
	})

	t.Run("provider_error_propagates", func(t *testing.T) {
		f, done := newAIFixture(t)
		defer done()
		f.enableClaude(t, ProviderSettingsInput{})
		sub := testutil.CreateTestSubscription(t, f.db, f.user.ID)
		f.provider.err = apperrors.ErrProviderInvalidCredentials

		_, err := f.svc.FindAlternatives(context.Background(), f.user.ID, sub.ID)
		testutil.AssertAppError(t, err, "PROVIDER_INVALID_CREDENTIALS")
		if f.provider.calls != 1 {
			t.Errorf("expected no retries, got %d calls", f.provider.calls)
		}
	})
}

func TestAIService_AnalyzeSpending(t *testing.T) {
	t.Run("empty_portfolio_canned", func(t *testing.T) {
		f, done := newAIFixture(t)
		defer done()
		f.enableClaude(t, ProviderSettingsInput{})

		insights, err := f.svc.AnalyzeSpending(context.Background(), f.user.ID)
		testutil.AssertNoError(t, err)
		if len(insights) != 1 || insights[0].Title != "No Subscriptions Yet" {
			t.Errorf("unexpected canned insights %+v", insights)
		}
		if f.built != 0 {
			t.Error("expected no provider for an empty portfolio")
		}
	})

	t.Run("parses_reply", func(t *testing.T) {
		f, done := newAIFixture(t)
		defer done()
		f.enableClaude(t, ProviderSettingsInput{})
		testutil.CreateTestSubscription(t, f.db, f.user.ID, testutil.WithName("Netflix"), testutil.WithCost("15.49"))
		f.provider.reply = `{"insights": [{"title": "Streaming heavy", "description": "Most spend is streaming"}]}`

		insights, err := f.svc.AnalyzeSpending(context.Background(), f.user.ID)
		testutil.AssertNoError(t, err)
		if len(insights) != 1 || insights[0].Title != "Streaming heavy" {
			t.Errorf("unexpected insights %+v", insights)
		}
		if !strings.Contains(f.provider.lastReq.Prompt, "Netflix: $15.49/month") {
			t.Errorf("prompt missing portfolio line: %s", f.provider.lastReq.Prompt)
		}
	})

	t.Run("missing_key_is_malformed", func(t *testing.T) {
		f, done := newAIFixture(t)
		defer done()
		f.enableClaude(t, ProviderSettingsInput{})
		testutil.CreateTestSubscription(t, f.db, f.user.ID)
		f.provider.reply = `{"observations": []}`

		_, err := f.svc.AnalyzeSpending(context.Background(), f.user.ID)
		testutil.AssertAppError(t, err, "MALFORMED_RESPONSE")
	})
}

func TestAIService_Recommend(t *testing.T) {
	t.Run("empty_portfolio_canned", func(t *testing.T) {
		f, done := newAIFixture(t)
		defer done()
		f.enableClaude(t, ProviderSettingsInput{})
		// paused subscriptions are not part of the portfolio
		testutil.CreateTestSubscription(t, f.db, f.user.ID, testutil.WithStatus(models.SubscriptionStatusPaused))

		recs, err := f.svc.Recommend(context.Background(), f.user.ID)
		testutil.AssertNoError(t, err)
		if len(recs) != 1 || recs[0].Priority != "low" {
			t.Errorf("unexpected canned recommendations %+v", recs)
		}
		if f.built != 0 {
			t.Error("expected no provider for an empty portfolio")
		}
	})

	t.Run("parses_reply", func(t *testing.T) {
		f, done := newAIFixture(t)
		defer done()
		f.enableClaude(t, ProviderSettingsInput{})
		testutil.CreateTestSubscription(t, f.db, f.user.ID)
		f.provider.reply = `Sure. {"recommendations": [{"title": "Cancel", "description": "Unused", "savings": "$9.99/month", "priority": "high"}]}`

		recs, err := f.svc.Recommend(context.Background(), f.user.ID)
		testutil.AssertNoError(t, err)
		if len(recs) != 1 || recs[0].Savings != "$9.99/month" || recs[0].Priority != "high" {
			t.Errorf("unexpected recommendations %+v", recs)
		}
	})
}

func TestAIService_Chat(t *testing.T) {
	t.Run("reply_and_history", func(t *testing.T) {
		f, done := newAIFixture(t)
		defer done()
		f.enableClaude(t, ProviderSettingsInput{})
		testutil.CreateTestSubscription(t, f.db, f.user.ID, testutil.WithName("Disney+"))
		f.provider.reply = "  You spend $9.99 a month.  "

		history := make([]ChatMessage, 0, 12)
		for i := 0; i < 12; i++ {
			role := "user"
			if i%2 == 1 {
				role = "assistant"
			}
			history = append(history, ChatMessage{Role: role, Content: "turn-" + string(rune('a'+i))})
		}

		reply, err := f.svc.Chat(context.Background(), f.user.ID, "How much do I spend?", history)
		testutil.AssertNoError(t, err)
		if reply.Reply != "You spend $9.99 a month." || reply.Model != "fake-model" {
			t.Errorf("unexpected reply %+v", reply)
		}

		prompt := f.provider.lastReq.Prompt
		if strings.Contains(prompt, "turn-a") || strings.Contains(prompt, "turn-b") {
			t.Error("expected only the last 10 history messages")
		}
		if !strings.Contains(prompt, "Assistant: turn-l") || !strings.HasSuffix(prompt, "User: How much do I spend?\nAssistant:") {
			t.Errorf("unexpected prompt: %s", prompt)
		}
		if !strings.Contains(f.provider.lastReq.Context, "Disney+") {
			t.Error("expected portfolio in chat context")
		}
	})

	t.Run("chat_disabled", func(t *testing.T) {
		f, done := newAIFixture(t)
		defer done()
		f.enableClaude(t, ProviderSettingsInput{FeatureChat: boolPtr(false)})

		_, err := f.svc.Chat(context.Background(), f.user.ID, "hi", nil)
		testutil.AssertAppError(t, err, "FEATURE_DISABLED")
	})

	t.Run("blank_message", func(t *testing.T) {
		f, done := newAIFixture(t)
		defer done()
		f.enableClaude(t, ProviderSettingsInput{})

		_, err := f.svc.Chat(context.Background(), f.user.ID, "   ", nil)
		testutil.AssertAppError(t, err, "INVALID_INPUT")
	})

	t.Run("empty_reply", func(t *testing.T) {
		f, done := newAIFixture(t)
		defer done()
		f.enableClaude(t, ProviderSettingsInput{})
		f.provider.reply = "   "

		_, err := f.svc.Chat(context.Background(), f.user.ID, "hi", nil)
		testutil.AssertAppError(t, err, "MALFORMED_RESPONSE")
	})
}

func TestAIService_TestConnection(t *testing.T) {
	t.Run("uses_stored_config_when_disabled", func(t *testing.T) {
		f, done := newAIFixture(t)
		defer done()
		_, err := f.settings.UpdateProvider(f.admin.ID, models.AIProviderOpenAI, ProviderSettingsInput{
			APIKey: strPtr("sk-openai"),
			Model:  strPtr("gpt-4o"),
		})
		testutil.AssertNoError(t, err)
		f.provider.reply = "Hello"

		res, err := f.svc.TestConnection(context.Background(), models.AIProviderOpenAI)
		testutil.AssertNoError(t, err)
		if res.Provider != models.AIProviderOpenAI || res.Model != "fake-model" {
			t.Errorf("unexpected result %+v", res)
		}
		if f.provider.lastReq.MaxTokens != connectionTestMaxTokens {
			t.Errorf("expected minimal prompt, got max tokens %d", f.provider.lastReq.MaxTokens)
		}
		if f.opts.Timeout != 500*time.Millisecond || f.opts.Model != "gpt-4o" || f.opts.APIKey != "sk-openai" {
			t.Errorf("unexpected options timeout=%s model=%s", f.opts.Timeout, f.opts.Model)
		}
	})

	t.Run("missing_key", func(t *testing.T) {
		f, done := newAIFixture(t)
		defer done()

		_, err := f.svc.TestConnection(context.Background(), models.AIProviderClaude)
		testutil.AssertAppError(t, err, "INVALID_PROVIDER_CONFIG")
		if f.built != 0 {
			t.Error("expected no provider built")
		}
	})

	t.Run("provider_unavailable", func(t *testing.T) {
		f, done := newAIFixture(t)
		defer done()
		f.provider.err = apperrors.Wrap(apperrors.ErrProviderUnavailable, context.DeadlineExceeded)

		_, err := f.svc.TestConnection(context.Background(), models.AIProviderOllama)
		testutil.AssertAppError(t, err, "PROVIDER_UNAVAILABLE")
	})
}

func TestAIService_ListModels(t *testing.T) {
	t.Run("fake_provider", func(t *testing.T) {
		f, done := newAIFixture(t)
		defer done()
		f.provider.models = []string{"llama3.2", "mistral"}

		got, err := f.svc.ListModels(context.Background(), models.AIProviderOllama)
		testutil.AssertNoError(t, err)
		if len(got) != 2 || got[1] != "mistral" {
			t.Errorf("unexpected models %v", got)
		}
	})

	t.Run("unreachable_ollama", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)

		// reserve a port then close it so nothing is listening
		server := httptest.NewServer(http.NotFoundHandler())
		addr := server.URL
		server.Close()

		settings := NewAISettingsService(db, newTestSealer(t), addr)
		svc := NewAIService(settings, NewSubscriptionService(db), ai.New, time.Second, 300*time.Millisecond)

		start := time.Now()
		_, err := svc.ListModels(context.Background(), models.AIProviderOllama)
		testutil.AssertAppError(t, err, "PROVIDER_UNAVAILABLE")
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Errorf("expected failure within the timeout, took %s", elapsed)
		}
	})
}
