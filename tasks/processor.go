package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/ukiyolabs/ukiyo-serve/diffusion"
	"github.com/ukiyolabs/ukiyo-serve/models"
	"github.com/ukiyolabs/ukiyo-serve/notify"
	"github.com/ukiyolabs/ukiyo-serve/storage"
	"github.com/ukiyolabs/ukiyo-serve/validation"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/webp"
)

// Generator is the slice of the diffusion service the processor calls.
// *diffusion.Service satisfies it; tests use a fake.
type Generator interface {
	LoadModel(ctx context.Context, name, ref string) error
	Generate(ctx context.Context, img image.Image, prompt string, p diffusion.Params) (image.Image, error)
	MemoryUsage() int64
	Release() error
}

// Processor runs transformation jobs pulled off the queue. One instance
// per worker process.
type Processor struct {
	store    Store
	storage  storage.Storage
	gen      Generator
	notifier notify.Notifier
	log      zerolog.Logger
}

func NewProcessor(store Store, st storage.Storage, gen Generator, notifier notify.Notifier, log zerolog.Logger) *Processor {
	return &Processor{store: store, storage: st, gen: gen, notifier: notifier, log: log}
}

// ProcessTask drives one job through its phases, reporting progress
// after each. Whatever goes wrong, the record ends up failed with an
// error message before the task finishes; nothing aborts silently.
func (p *Processor) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload transformPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("tasks: unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	log := p.log.With().Str("task_id", payload.TaskID).Logger()

	// Release transient generation buffers however the job ends.
	defer func() {
		if err := p.gen.Release(); err != nil {
			log.Warn().Err(err).Msg("generator cleanup failed")
		}
	}()

	t, err := p.store.TransformationByTaskID(ctx, payload.TaskID)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if t == nil {
		log.Warn().Msg("transformation record missing, dropping task")
		return nil
	}
	if t.IsTerminal() {
		// Cancelled while queued.
		log.Info().Str("status", t.Status).Msg("transformation already terminal, dropping task")
		return nil
	}

	startedAt := time.Now()
	if err := p.store.MarkProcessing(ctx, t, startedAt); err != nil {
		if errors.Is(err, ErrStaleTransition) {
			log.Info().Msg("transformation moved concurrently, dropping task")
			return nil
		}
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	p.progress(ctx, t.TaskID, models.StatusProcessing, "Starting image transformation...", 10)

	if err := validation.ValidatePrompt(t.Prompt); err != nil {
		return p.fail(ctx, log, t, startedAt, fmt.Sprintf("Transformation failed: %v", err))
	}
	if err := validation.ValidateGenerationParams(t.Strength, t.GuidanceScale, t.NumInferenceSteps, t.Seed); err != nil {
		return p.fail(ctx, log, t, startedAt, fmt.Sprintf("Transformation failed: %v", err))
	}

	p.progress(ctx, t.TaskID, models.StatusProcessing, "Loading AI model...", 20)

	mc, err := p.store.ModelConfigByName(ctx, t.ModelName)
	if err != nil {
		return p.fail(ctx, log, t, startedAt, fmt.Sprintf("Transformation failed: %v", err))
	}
	if mc == nil {
		return p.fail(ctx, log, t, startedAt, fmt.Sprintf("Transformation failed: unknown model %q", t.ModelName))
	}

	backend, err := diffusion.ParseBackend(mc.Backend)
	if err != nil {
		return p.fail(ctx, log, t, startedAt, fmt.Sprintf("Transformation failed: %v", err))
	}

	if err := p.gen.LoadModel(ctx, mc.Name, mc.ModelRef); err != nil {
		return p.fail(ctx, log, t, startedAt, fmt.Sprintf("Transformation failed: %v", err))
	}

	p.progress(ctx, t.TaskID, models.StatusProcessing, "Preprocessing image...", 30)

	data, err := p.storage.Download(ctx, t.OriginalURL)
	if err != nil {
		return p.fail(ctx, log, t, startedAt, fmt.Sprintf("Transformation failed: %v", err))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return p.fail(ctx, log, t, startedAt, fmt.Sprintf("Transformation failed: decode input: %v", err))
	}

	memBefore := p.gen.MemoryUsage()

	p.progress(ctx, t.TaskID, models.StatusProcessing, "Generating transformed image...", 40)

	result, err := p.gen.Generate(ctx, img, t.Prompt, diffusion.Params{
		ModelName:         mc.Name,
		ModelRef:          mc.ModelRef,
		Backend:           backend,
		ControlNetKind:    mc.ControlNetKind,
		NegativePrompt:    t.NegativePrompt,
		Strength:          t.Strength,
		GuidanceScale:     t.GuidanceScale,
		NumInferenceSteps: t.NumInferenceSteps,
		Seed:              t.Seed,
	})
	if err != nil {
		// Generation failures are fatal for the job, never retried.
		return p.fail(ctx, log, t, startedAt, fmt.Sprintf("Transformation failed: %v", err))
	}

	p.progress(ctx, t.TaskID, models.StatusProcessing, "Saving result...", 80)

	var buf bytes.Buffer
	if err := png.Encode(&buf, result); err != nil {
		return p.fail(ctx, log, t, startedAt, fmt.Sprintf("Transformation failed: encode result: %v", err))
	}

	resultName := fmt.Sprintf("result_%s.jpg", t.TaskID)
	resultURL, err := p.storage.Upload(ctx, buf.Bytes(), resultName, storage.FolderResults)
	if err != nil {
		return p.fail(ctx, log, t, startedAt, fmt.Sprintf("Transformation failed: %v", err))
	}

	t.ResultFilename = resultName
	t.ResultURL = resultURL
	if info, err := p.storage.Info(ctx, resultURL); err == nil && info != nil {
		t.ResultSize = info.Size
	}
	t.ProcessingTime = time.Since(startedAt).Seconds()
	if delta := p.gen.MemoryUsage() - memBefore; delta > 0 {
		t.MemoryUsed = delta
	}

	if err := p.store.MarkCompleted(ctx, t); err != nil {
		if errors.Is(err, ErrStaleTransition) {
			log.Info().Msg("transformation moved concurrently, result discarded")
			return nil
		}
		return p.fail(ctx, log, t, startedAt, fmt.Sprintf("Transformation failed: %v", err))
	}

	p.progress(ctx, t.TaskID, models.StatusCompleted, "Transformation completed successfully!", 100)

	log.Info().
		Float64("processing_time", t.ProcessingTime).
		Str("result_url", t.ResultURL).
		Msg("transformation completed")

	return nil
}

// fail records the failure into persisted state and emits the terminal
// notification. It consumes the task: the job is done, just not well.
func (p *Processor) fail(ctx context.Context, log zerolog.Logger, t *models.Transformation, startedAt time.Time, message string) error {
	elapsed := time.Since(startedAt).Seconds()

	if err := p.store.MarkFailed(ctx, t, message, elapsed); err != nil && !errors.Is(err, ErrStaleTransition) {
		log.Error().Err(err).Msg("failed to record transformation failure")
	}

	p.progress(ctx, t.TaskID, models.StatusFailed, message, 0)
	log.Warn().Str("error", message).Msg("transformation failed")
	return nil
}

func (p *Processor) progress(ctx context.Context, taskID, status, message string, percent int) {
	err := p.notifier.Publish(ctx, notify.ProgressUpdate{
		TaskID:  taskID,
		Status:  status,
		Message: message,
		Percent: percent,
	})
	if err != nil {
		p.log.Warn().Err(err).Str("task_id", taskID).Msg("progress publish failed")
	}
}
