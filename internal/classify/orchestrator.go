package classify

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/Boon40/PlantMore/internal/models"
)

// FallbackReply is the only text shown to users when classification fails,
// whatever the underlying cause. Technical details go to the log.
const FallbackReply = "🌿 Sorry, I couldn't identify this plant right now. Please try again in a moment."

const maxAlternatives = 3

// Classifier is the external classification service.
type Classifier interface {
	Classify(ctx context.Context, imagePath string) models.ClassificationResult
}

// MessageStore is the slice of the resource store the orchestrator writes to.
type MessageStore interface {
	CreateMessage(ctx context.Context, convID int64, role string, text *string) (*models.Message, error)
}

// Job identifies one stored image awaiting classification.
type Job struct {
	ConversationID int64
	ImagePath      string
}

// Orchestrator runs classification jobs off the request path. Uploads
// enqueue a job and return immediately; the worker turns each job into
// exactly one assistant message, successful or apologetic. Jobs are held in
// memory only: a full queue or a crash drops the job with a dead-letter log
// line, nothing is retried.
type Orchestrator struct {
	classifier Classifier
	store      MessageStore
	logger     *zap.Logger
	jobs       chan Job
}

func NewOrchestrator(classifier Classifier, store MessageStore, logger *zap.Logger, queueSize int) *Orchestrator {
	if queueSize <= 0 {
		queueSize = 32
	}
	return &Orchestrator{
		classifier: classifier,
		store:      store,
		logger:     logger,
		jobs:       make(chan Job, queueSize),
	}
}

// Enqueue hands a job to the worker without blocking. It reports whether
// the job was accepted.
func (o *Orchestrator) Enqueue(job Job) bool {
	select {
	case o.jobs <- job:
		return true
	default:
		o.logger.Error("classification queue full, dropping job",
			zap.Int64("conversation_id", job.ConversationID),
			zap.String("image_path", job.ImagePath))
		return false
	}
}

func (o *Orchestrator) Name() string { return "classifier" }

// Run consumes jobs until ctx is cancelled. Job failures never stop the
// loop and never reach the request path that enqueued them.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-o.jobs:
			o.process(ctx, job)
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("classification job panicked",
				zap.Any("panic", r),
				zap.Int64("conversation_id", job.ConversationID))
			o.reply(ctx, job, FallbackReply)
		}
	}()

	result := o.classifier.Classify(ctx, job.ImagePath)
	if !result.Success {
		o.logger.Warn("classification failed",
			zap.String("image_path", job.ImagePath),
			zap.String("error", result.Error))
		o.reply(ctx, job, FallbackReply)
		return
	}

	o.reply(ctx, job, FormatReply(result))
}

func (o *Orchestrator) reply(ctx context.Context, job Job, text string) {
	if _, err := o.store.CreateMessage(ctx, job.ConversationID, models.RoleAssistant, &text); err != nil {
		o.logger.Error("writing classification reply",
			zap.Error(err),
			zap.Int64("conversation_id", job.ConversationID))
	}
}

// FormatReply renders a classification result as the assistant's message:
// a header naming the top prediction with its rounded percentage, then up
// to three alternatives from ranks 2-4 of top_k.
func FormatReply(result models.ClassificationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🌿 This looks like **%s** (%d%% confident).", result.Prediction, percent(result.Confidence))

	if len(result.TopK) > 1 {
		alternatives := result.TopK[1:]
		if len(alternatives) > maxAlternatives {
			alternatives = alternatives[:maxAlternatives]
		}
		b.WriteString("\n\nOther possibilities:")
		for _, alt := range alternatives {
			fmt.Fprintf(&b, "\n• %s (%d%%)", alt.Label, percent(alt.Confidence))
		}
	}
	return b.String()
}

func percent(confidence float64) int {
	return int(math.Round(confidence * 100))
}
