package assistant

// DefaultID names the profile used when a session does not ask for one.
const DefaultID = "helpful-assistant"

// Profile captures how an assistant introduces itself and what it is told to be.
type Profile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	SystemPrompt string `json:"-"`
	Greeting     string `json:"greeting"`
	Multimodal   bool   `json:"multimodal"`
}

// Seed provides the built-in profiles. systemPrompt and greeting override the
// default profile when non-empty.
func Seed(systemPrompt, greeting string) []Profile {
	def := Profile{
		ID:           DefaultID,
		Name:         "Assistant",
		Description:  "General purpose assistant that can look at an attached image.",
		SystemPrompt: "You are a helpful assistant.",
		Greeting:     "Hi, I'm a helpful assistant, how may I assist you?",
		Multimodal:   true,
	}
	if systemPrompt != "" {
		def.SystemPrompt = systemPrompt
	}
	if greeting != "" {
		def.Greeting = greeting
	}

	return []Profile{
		def,
		{
			ID:           "image-describer",
			Name:         "Image Describer",
			Description:  "Describes attached images in detail.",
			SystemPrompt: "You are a helpful assistant. When an image is attached, describe what it shows in detail before answering.",
			Greeting:     "Send me a picture and I'll tell you what I see.",
			Multimodal:   true,
		},
	}
}
