package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/liks79/langbridge-liveloop-app/internal/protocol"
	"github.com/liks79/langbridge-liveloop-app/internal/script"
)

// Categories rotate the focus of the daily expression.
var Categories = []string{
	"Idioms & Slang",
	"Phrasal Verbs",
	"Business English",
	"Daily Life & Routines",
	"Emotions & Feelings",
	"Travel & Exploration",
	"Socializing & Networking",
	"Technology & Work",
	"Health & Wellness",
	"Opinion & Debate",
}

const (
	promptTopicUser    = "Generate today topic."
	promptDialogueUser = "Generate a short dialogue."
	promptQuizUser     = "Generate a quiz based on this context."
)

func analyzePrompt(mode script.Mode) string {
	if mode == script.KtoE {
		return strings.TrimSpace(`
You are an expert English writing coach for Korean speakers.
Analyze the user's Korean input and provide English translations.
Return a JSON object with this structure:
{
  "originalText": "The original Korean text",
  "variations": [
    { "style": "Formal (격식)", "text": "English translation" },
    { "style": "Casual (캐주얼)", "text": "English translation" },
    { "style": "Native/Idiomatic (원어민 표현)", "text": "English translation" }
  ],
  "keywords": [
    {
      "word": "Korean Word from input",
      "meaning": "English Equivalent",
      "note": "Brief usage note or nuance explanation in Korean"
    }
  ]
}
Analyze 3-5 key words.
`)
	}
	return strings.TrimSpace(`
You are an expert English tutor for Korean students.
Analyze the user's English input.
Return a JSON object with this structure:
{
  "originalText": "The original english text",
  "translation": "Natural Korean translation",
  "nuance": "Brief explanation of the tone or context (in Korean)",
  "keywords": [
    {
      "word": "English Word",
      "meaning": "Korean Meaning",
      "usage": "Example sentence using this word in English",
      "usageTranslation": "Korean translation of the example"
    }
  ]
}
Analyze 3-6 key words.
`)
}

func quizPrompt(mode script.Mode, result *protocol.Analysis) string {
	var context string
	if mode == script.KtoE {
		texts := make([]string, 0, len(result.Variations))
		for _, v := range result.Variations {
			texts = append(texts, v.Text)
		}
		meanings := make([]string, 0, len(result.Keywords))
		for _, k := range result.Keywords {
			meanings = append(meanings, k.Meaning)
		}
		context = fmt.Sprintf("Original Korean: %s\nEnglish Translations: %s\nKeywords: %s",
			result.OriginalText, strings.Join(texts, ", "), strings.Join(meanings, ", "))
	} else {
		words := make([]string, 0, len(result.Keywords))
		for _, k := range result.Keywords {
			words = append(words, k.Word)
		}
		context = fmt.Sprintf("Original Text: %s\nTranslation: %s\nKeywords: %s",
			result.OriginalText, result.Translation, strings.Join(words, ", "))
	}

	return strings.TrimSpace(fmt.Sprintf(`
Create a mini-quiz with 3 multiple-choice questions based on the English learning material provided below.

Context Material:
%s

Instructions:
1. Create 3 questions in Korean.
2. Questions should test understanding of English vocabulary meanings, usage, or grammar nuances related to the context.
3. Provide 4 options for each question.
4. Indicate the correct answer index (0-3).
5. Provide a brief explanation for the correct answer.

Return strictly JSON format:
{
  "questions": [
    {
      "id": 1,
      "question": "Question text in Korean",
      "options": ["Option 1", "Option 2", "Option 3", "Option 4"],
      "correctAnswerIndex": 0,
      "explanation": "Why this is correct"
    }
  ]
}
`, context))
}

func seasonOf(m time.Month) string {
	switch {
	case m >= time.March && m <= time.May:
		return "spring"
	case m >= time.June && m <= time.August:
		return "summer"
	case m >= time.September && m <= time.November:
		return "autumn"
	default:
		return "winter"
	}
}

func topicPrompt(keyword string, now time.Time) string {
	base := strings.TrimSpace(`
You are an expert English tutor for Korean students.
Generate ONE short English learning text for the user to study.

Constraints:
- Output must be in English only.
- Output must be either:
  - a single sentence, OR
  - a short paragraph with at most 5 sentences.
- Prefer natural, idiomatic English suitable for intermediate learners.
- Avoid sensitive/political/explicit content.
`)

	if keyword = strings.TrimSpace(keyword); keyword != "" {
		return strings.TrimSpace(fmt.Sprintf(`
%s

Topic keyword: "%s"

Create a text that is clearly related to the keyword. It can be:
- a proverb / saying / quote,
- a thought-provoking question,
- a brief explanation, or
- a mini story snippet.

Return strictly JSON:
{ "text": "..." }
`, base, keyword))
	}

	return strings.TrimSpace(fmt.Sprintf(`
%s

No topic keyword provided.
Use today's context to inspire the text:
- Date: %s
- Month: %s
- Weekday: %s
- Season: %s

Create a proverb/saying/quote OR a reflective short paragraph (<=5 sentences) that fits today's context.

Return strictly JSON:
{ "text": "..." }
`, base, now.Format(time.DateOnly), now.Month(), now.Weekday(), seasonOf(now.Month())))
}

func dailyExpressionPrompt(date string, weekday time.Weekday, category string, seed float64) string {
	return strings.TrimSpace(fmt.Sprintf(`
You are an expert English tutor for Korean students.
Create ONE "Daily Expression" that native speakers commonly use.

Focus Category: %[1]s

Constraints:
- Output must be strictly JSON (no markdown).
- Provide an idiom, phrasal verb, or useful expression, plus a short Korean explanation and a natural example sentence.
- Choose something that is natural and commonly used by native speakers, but avoid overly cliché idioms (e.g., "Piece of cake", "Break a leg") unless they fit a very specific, fresh context.
- Prioritize expressions that are practical for intermediate learners.
- Keep it concise and safe for all audiences.

Return strictly JSON:
{
  "expression": "The expression/idiom",
  "meaningKo": "Korean meaning/explanation (1-2 sentences)",
  "exampleEn": "Natural example sentence in English",
  "exampleKo": "Korean translation of the example"
}

Today's date: %[2]s
Weekday: %[3]s
Category: %[1]s
Random Seed: %[4]v
`, category, date, weekday, seed))
}

func dailyExpressionUserPrompt(category string) string {
	return "Generate a daily expression for category: " + category
}

func dialoguePrompt(text string) string {
	return strings.TrimSpace(fmt.Sprintf(`
You are an expert English tutor for Korean students.
Create a short, realistic dialogue between two people, Liz (female) and David (male), that demonstrates how the given text could be used in real life.

Input text:
%s

Constraints:
- Output must be strictly JSON (no markdown).
- Create 4 to 6 turns total (Liz and David alternating).
- Each turn must include:
  - speaker: "Liz" or "David"
  - en: natural English line
  - ko: Korean translation of that line
- Keep tone friendly and practical. Avoid sensitive/political/explicit content.

Return strictly JSON:
{
  "turns": [
    { "speaker": "Liz", "en": "...", "ko": "..." }
  ]
}
`, strings.TrimSpace(text)))
}
