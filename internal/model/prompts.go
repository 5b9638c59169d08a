package model

type SuggestedPrompt struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

var SuggestedPrompts = []SuggestedPrompt{
	{
		Title:       "Help me study",
		Description: "vocabulary for a college entrance exam",
		Prompt:      "Help me study vocabulary for a college entrance exam. Give me 10 important words with definitions and example sentences.",
	},
	{
		Title:       "Show me a code snippet",
		Description: "of a website's sticky header",
		Prompt:      "Show me a code snippet for implementing a sticky header on a website using HTML, CSS, and JavaScript.",
	},
	{
		Title:       "Give me ideas",
		Description: "for what to do with my kids' art",
		Prompt:      "Give me creative ideas for what to do with my kids' artwork. I want to preserve and display their creations in meaningful ways.",
	},
}
