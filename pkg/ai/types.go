package ai

import (
	"context"

	"github.com/trustapp/trust-go-api/internal/models"
)

// FallbackResponse is returned whenever the model is unreachable or slow to
// answer. Counseling replies are best-effort by design.
const FallbackResponse = "I'm here with you. I had a little trouble finding the right words just now — could you tell me a bit more about that?"

// Responder generates counselor replies for sessions assigned to the
// automated agent. Implementations may be slow and may fail; callers always
// receive a usable reply string.
type Responder interface {
	GenerateResponse(ctx context.Context, history []models.Message, newMessage string) string
}
