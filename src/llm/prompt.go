package llm

import (
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

func getSystemTemplate() string {
	return `You are the language understanding component of a fuel-price assistant for drivers in Mexico.
Users write in Spanish, often informally, about gasoline prices and gas stations.

-Goal-
Classify the user's message into exactly one intent and extract the entities that are literally present in it.

Intents:
- price_query: current price of a fuel type
- station_search: find gas stations, usually nearby or in a place
- price_history: how prices changed over a period
- price_comparison: compare prices between stations or fuel types
- ranking: cheapest stations or best prices
- help: how to use the bot
- greeting: greetings and small talk
- unknown: anything else

Entities:
- fuel_type: one of magna, premium, diesel ("verde" and "regular" mean magna, "roja" means premium)
- location: city, municipality or neighbourhood; use "cerca" when the user means "near me"
- time_period: number of days (weeks are 7 days, months are 30 days)
- station_name: brand plus branch, for example "Pemex Centro"

Commands: precios, estaciones, historial, comparar, ranking, ayuda

STRICT RULES:
1. Use only the intents, entity types and commands listed above
2. Only extract entities that appear in the current message; the conversation context is only for resolving follow-ups such as "y la premium?"
3. Confidence is a number between 0 and 1

-Output-
(intent{TD}<intent>{TD}<confidence>)
{RD}
(entity{TD}<entity_type>{TD}<value>)
{RD}
(command{TD}<command>)
{CD}

Example:
text: cuanto esta la roja en monterrey
Output:
(intent{TD}price_query{TD}0.95)
{RD}
(entity{TD}fuel_type{TD}premium)
{RD}
(entity{TD}location{TD}Monterrey)
{RD}
(command{TD}precios)
{CD}`
}

func getUserTemplate() string {
	return `{context}

text: {text}
Output:`
}

// createIntentTemplate builds the chat template. Variables: "context" and "text".
func createIntentTemplate() prompt.ChatTemplate {
	replacer := strings.NewReplacer(
		"{TD}", TupleDelimiter,
		"{RD}", RecordDelimiter,
		"{CD}", CompletionDelimiter,
	)
	// the system text holds no template variables, so any brace left must be escaped
	systemText := replacer.Replace(getSystemTemplate())
	systemText = strings.NewReplacer("{", "{{", "}", "}}").Replace(systemText)

	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(systemText),
		schema.UserMessage(getUserTemplate()),
	)
}
