package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturaIA/nfse-chat-service/internal/ai"
	"github.com/facturaIA/nfse-chat-service/internal/conversation"
	"github.com/facturaIA/nfse-chat-service/internal/events"
	"github.com/facturaIA/nfse-chat-service/internal/models"
	"github.com/facturaIA/nfse-chat-service/internal/session"
)

func TestBuildWithDefaults(t *testing.T) {
	cfg := models.DefaultConfig()
	a, err := Build(context.Background(), &cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Snapshots)
	assert.IsType(t, events.NopPublisher{}, a.Publisher)
	assert.Empty(t, a.Checks())

	ctx := context.Background()
	phone := "5511999990000"

	reply := a.Processor.Process(ctx, phone, "CNPJ 11222333000181 valor 1500,00 consultoria em TI")
	assert.Contains(t, reply, "R$ 1.500,00")

	sess, err := a.Store.GetActive(ctx, phone)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, conversation.AwaitingConfirmation, sess.State)
}

func TestBuildWithRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := models.DefaultConfig()
	cfg.Session.Backend = "redis"
	cfg.Redis.Addr = mr.Addr()

	a, err := Build(context.Background(), &cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	checks := a.Checks()
	require.Contains(t, checks, "redis")
	assert.NoError(t, checks["redis"](context.Background()))

	a.Processor.Process(context.Background(), "5511988887777", "valor 200")
	assert.NotEmpty(t, mr.Keys())
}

func TestBuildRejectsUnknownSettings(t *testing.T) {
	cfg := models.DefaultConfig()
	cfg.AI.DefaultProvider = "watson"
	_, err := Build(context.Background(), &cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown AI provider")

	cfg = models.DefaultConfig()
	cfg.Session.Backend = "etcd"
	_, err = Build(context.Background(), &cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown session backend")
}

func TestBuildWithoutAPIKeyFallsBackToRules(t *testing.T) {
	cfg := models.DefaultConfig()
	cfg.AI.DefaultProvider = "openai"
	cfg.AI.OpenAI.APIKey = ""

	a, err := Build(context.Background(), &cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	reply := a.Processor.Process(context.Background(), "5511977776666", "CNPJ 11222333000181")
	assert.NotEmpty(t, reply)
}

func TestBuildFallsBackWhenGeminiFailsToStart(t *testing.T) {
	orig := newGeminiProvider
	t.Cleanup(func() { newGeminiProvider = orig })
	newGeminiProvider = func(context.Context, string, string) (*ai.GeminiProvider, error) {
		return nil, errors.New("dial failed")
	}

	cfg := models.DefaultConfig()
	cfg.AI.DefaultProvider = "gemini"
	cfg.AI.Gemini.APIKey = "test-key"

	a, err := Build(context.Background(), &cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	reply := a.Processor.Process(context.Background(), "5511966665555", "CNPJ 11222333000181 valor 1500,00 consultoria em TI")
	assert.Contains(t, reply, "R$ 1.500,00")
}

type recordingPublisher struct {
	types []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ interface{}) error {
	p.types = append(p.types, eventType)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestExpire(t *testing.T) {
	cfg := models.DefaultConfig()
	cfg.Session.TTL = time.Millisecond

	st, err := OpenStores(context.Background(), &cfg, zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	sess, _, err := st.Store.GetOrCreate(ctx, "5511999990000")
	require.NoError(t, err)
	require.NoError(t, st.Store.Save(ctx, sess, session.ReasonNone))
	time.Sleep(5 * time.Millisecond)

	pub := &recordingPublisher{}

	report, err := Expire(ctx, st, pub, true, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Checked)
	assert.Len(t, report.Expired, 1)
	assert.Empty(t, pub.types)

	active, err := st.Store.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	report, err = Expire(ctx, st, pub, false, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, report.Expired, 1)
	assert.Equal(t, conversation.Expired, report.Expired[0].State)
	assert.Equal(t, []string{events.SessionExpired}, pub.types)

	active, err = st.Store.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}
