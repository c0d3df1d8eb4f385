package protocol

import "time"

// AnalyzeRequest is the body of POST /api/analyze.
type AnalyzeRequest struct {
	InputText    string `json:"inputText"`
	DetectedMode string `json:"detectedMode"`
}

// Analysis is the mode-dependent analysis object. EtoK results carry
// Translation and Nuance; KtoE results carry Variations.
type Analysis struct {
	OriginalText string      `json:"originalText,omitempty"`
	Translation  string      `json:"translation,omitempty"`
	Nuance       string      `json:"nuance,omitempty"`
	Variations   []Variation `json:"variations,omitempty"`
	Keywords     []Keyword   `json:"keywords,omitempty"`
}

type Variation struct {
	Style string `json:"style"`
	Text  string `json:"text"`
}

type Keyword struct {
	Word             string `json:"word"`
	Meaning          string `json:"meaning,omitempty"`
	Usage            string `json:"usage,omitempty"`
	UsageTranslation string `json:"usageTranslation,omitempty"`
	Note             string `json:"note,omitempty"`
}

type QuizRequest struct {
	DetectedMode string    `json:"detectedMode"`
	Result       *Analysis `json:"result"`
}

type Quiz struct {
	Questions []QuizQuestion `json:"questions"`
}

type QuizQuestion struct {
	ID                 int      `json:"id"`
	Question           string   `json:"question"`
	Options            []string `json:"options"`
	CorrectAnswerIndex int      `json:"correctAnswerIndex"`
	Explanation        string   `json:"explanation"`
}

type TTSRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type TopicRequest struct {
	Keyword string `json:"keyword,omitempty"`
}

type Topic struct {
	Text string `json:"text"`
}

type DailyExpressionRequest struct {
	Date string `json:"date,omitempty"`
}

type DailyExpression struct {
	Expression string `json:"expression"`
	MeaningKo  string `json:"meaningKo,omitempty"`
	ExampleEn  string `json:"exampleEn,omitempty"`
	ExampleKo  string `json:"exampleKo,omitempty"`
	Category   string `json:"category,omitempty"`
	Date       string `json:"date"`
}

type DialogueRequest struct {
	Text string `json:"text"`
}

type Dialogue struct {
	Turns []Turn `json:"turns"`
}

// Turn is one line of a two-person dialogue.
type Turn struct {
	Speaker string `json:"speaker"`
	En      string `json:"en"`
	Ko      string `json:"ko"`
}

// ErrorBody is the JSON shape of every non-2xx API response.
type ErrorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status,omitempty"`
	Detail string `json:"detail,omitempty"`
	Raw    string `json:"raw,omitempty"`
}

// APIEvent is published on the bus after each API call completes.
type APIEvent struct {
	RequestID string        `json:"request_id"`
	Endpoint  string        `json:"endpoint"`
	Status    int           `json:"status"`
	Origin    string        `json:"origin,omitempty"`
	Model     string        `json:"model,omitempty"`
	Bytes     int           `json:"bytes"`
	Latency   time.Duration `json:"latency"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	PathAnalyze         = "/api/analyze"
	PathQuiz            = "/api/quiz"
	PathTTS             = "/api/tts"
	PathTopic           = "/api/topic"
	PathDailyExpression = "/api/daily-expression"
	PathDialogue        = "/api/dialogue"
)

const (
	SubjectAPIEventPrefix = "langbridge.api"
)

// SubjectForEndpoint returns the bus subject for an endpoint name such as
// "analyze" or "daily-expression".
func SubjectForEndpoint(endpoint string) string {
	return SubjectAPIEventPrefix + "." + endpoint
}

const (
	VoiceWoman = "WOMAN"
	VoiceMan   = "MAN"
)
