package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"fuelbot/src/model"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatModel struct {
	content string
	err     error
	input   []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.content, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func TestClientParsesModelOutput(t *testing.T) {
	ctx := context.Background()
	fake := &fakeChatModel{content: "(intent<||>ranking<||>0.91)##(entity<||>fuel_type<||>Premium)##(entity<||>location<||>Monterrey)##(command<||>/ranking)<|COMPLETE|>"}
	client, err := NewClientWithModel(ctx, fake)
	require.NoError(t, err)
	assert.False(t, client.Mock())

	resp, err := client.Complete(ctx, model.AIRequest{
		Text: "cual conviene {hoy}",
		Context: model.ConversationContext{
			LastIntent:   model.IntentPriceQuery,
			LastEntities: model.Entities{FuelType: "magna"},
			UpdatedAt:    time.Now(),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.IntentRanking, resp.Intent)
	assert.Equal(t, 0.91, resp.Confidence)
	assert.Equal(t, model.Entities{FuelType: "premium", Location: "Monterrey"}, resp.Entities)
	assert.Equal(t, "ranking", resp.SuggestedCommand)

	require.Len(t, fake.input, 2)
	assert.Equal(t, schema.System, fake.input[0].Role)
	assert.Contains(t, fake.input[0].Content, "(intent<||><intent><||><confidence>)")
	assert.Contains(t, fake.input[1].Content, "text: cual conviene {hoy}")
	assert.Contains(t, fake.input[1].Content, "LastIntent(price_query)")
}

func TestClientPropagatesModelErrors(t *testing.T) {
	ctx := context.Background()
	client, err := NewClientWithModel(ctx, &fakeChatModel{err: errors.New("429 too many requests")})
	require.NoError(t, err)

	_, err = client.Complete(ctx, model.AIRequest{Text: "hola"})
	assert.Error(t, err)
}

func TestClientRejectsOutputWithoutIntent(t *testing.T) {
	ctx := context.Background()
	client, err := NewClientWithModel(ctx, &fakeChatModel{content: "lo siento, no entiendo"})
	require.NoError(t, err)

	_, err = client.Complete(ctx, model.AIRequest{Text: "hola"})
	assert.Error(t, err)
}

func TestClientMockModeWithoutCredentials(t *testing.T) {
	client, err := NewClient(context.Background(), model.LLMConfig{Provider: "openai"})
	require.NoError(t, err)
	assert.True(t, client.Mock())

	resp, err := client.Complete(context.Background(), model.AIRequest{Text: "cuanto esta la magna"})
	require.NoError(t, err)
	assert.Equal(t, model.IntentUnknown, resp.Intent)
	assert.Zero(t, resp.Confidence)
}

func TestNewClientRejectsUnknownProvider(t *testing.T) {
	_, err := NewClient(context.Background(), model.LLMConfig{Provider: "nope", APIKey: "k"})
	assert.Error(t, err)
}

func TestParseResponse(t *testing.T) {
	resp, err := ParseResponse(strings.Join([]string{
		"(intent<||>price_query<||>0.4)",
		"(intent<||>price_history<||>1.7)",
		"(entity<||>time_period<||>14)",
		"(entity<||>time_period<||>two weeks)",
		"(sentiment<||>positive<||>0.9)",
		"garbage",
		"<|COMPLETE|>",
	}, "##"))
	require.NoError(t, err)
	assert.Equal(t, model.IntentPriceHistory, resp.Intent)
	assert.Equal(t, 1.0, resp.Confidence, "confidence is clamped")
	assert.Equal(t, 14, resp.Entities.TimePeriod)

	resp, err = ParseResponse("(intent<||>book_flight<||>0.9)<|COMPLETE|>")
	require.NoError(t, err)
	assert.Equal(t, model.IntentUnknown, resp.Intent)

	_, err = ParseResponse("(entity<||>fuel_type<||>magna)")
	assert.Error(t, err)
}

func TestBuildContext(t *testing.T) {
	assert.Empty(t, BuildContext(model.ConversationContext{}, nil))

	var history []model.HistoryEntry
	for _, q := range []string{"q1", "q2", "q3", "q4", "q5", "q6"} {
		history = append(history, model.HistoryEntry{Query: q, Response: "r-" + q})
	}
	got := BuildContext(model.ConversationContext{
		LastIntent:   model.IntentStationSearch,
		LastEntities: model.Entities{Location: "Apodaca", TimePeriod: 7},
		UpdatedAt:    time.Now(),
	}, history)

	assert.True(t, strings.HasPrefix(got, "<conversation_context>\n"))
	assert.True(t, strings.HasSuffix(got, "</conversation_context>"))
	assert.Contains(t, got, "LastIntent(station_search)")
	assert.Contains(t, got, "LastEntities(location=Apodaca, time_period=7)")
	assert.NotContains(t, got, "UserMessage(q1)")
	assert.Contains(t, got, "UserMessage(q2)\nAssistantMessage(r-q2)")
	assert.Contains(t, got, "UserMessage(q6)")
}
