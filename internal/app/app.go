package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"media-gateway/config"
	"media-gateway/internal/storage"
	"media-gateway/observability"
	"media-gateway/services"
)

// ErrNotInitialized is returned when a route's backing service was not wired
var ErrNotInitialized = errors.New("service not initialized")

// MediaStoreInterface defines the upload storage operations needed by App
type MediaStoreInterface interface {
	Root() string
	Save(name string, data []byte) (*storage.StoredFile, error)
	Open(name string) (*os.File, fs.FileInfo, error)
	Ready() error
}

var _ MediaStoreInterface = (*storage.MediaStore)(nil)

// Deps groups the collaborators App delegates to. Nil members disable their routes.
type Deps struct {
	Tasks      services.TaskServiceInterface
	GoogleAuth services.GoogleAuthServiceInterface
	Sheets     services.SheetsServiceInterface
	Assist     services.AssistServiceInterface
	Media      MediaStoreInterface
}

// App struct holds application dependencies using interfaces for testability
type App struct {
	cfg        *config.Config
	tasks      services.TaskServiceInterface
	googleAuth services.GoogleAuthServiceInterface
	sheets     services.SheetsServiceInterface
	assist     services.AssistServiceInterface
	media      MediaStoreInterface
}

// New creates a new App application struct
func New(cfg *config.Config, deps Deps) *App {
	return &App{
		cfg:        cfg,
		tasks:      deps.Tasks,
		googleAuth: deps.GoogleAuth,
		sheets:     deps.Sheets,
		assist:     deps.Assist,
		media:      deps.Media,
	}
}

// NewFromConfig builds every service from cfg. A Bedrock client that cannot be
// created leaves the assist routes disabled instead of failing startup.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*App, error) {
	media, err := storage.NewMediaStore(cfg.Storage.UploadsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create media store: %w", err)
	}

	deps := Deps{
		Tasks:      services.NewTaskService(cfg),
		GoogleAuth: services.NewGoogleAuthService(cfg),
		Sheets:     services.NewSheetsService(cfg),
		Media:      media,
	}

	switch cfg.Assist.Provider {
	case config.ProviderBedrock:
		client, err := services.NewBedrockClient(ctx, cfg.Assist.AWSRegion, cfg.Assist.BedrockModelID)
		if err != nil {
			observability.WithError(err).Warn("bedrock client unavailable, assist routes disabled")
		} else {
			deps.Assist = services.NewAssistService(client, cfg.Assist.BedrockModelID)
		}
	default:
		deps.Assist = services.NewAssistService(services.NewAnthropicClient(cfg), cfg.Assist.Model)
	}

	return New(cfg, deps), nil
}

// Config returns the application configuration
func (a *App) Config() *config.Config {
	return a.cfg
}

// CreateTask submits a generation task to provider
func (a *App) CreateTask(ctx context.Context, provider services.TaskProvider, body json.RawMessage) (*services.Relayed, error) {
	if a.tasks == nil {
		return nil, fmt.Errorf("task service: %w", ErrNotInitialized)
	}
	return a.tasks.Create(ctx, provider, body)
}

// QueryTask polls a generation task on provider
func (a *App) QueryTask(ctx context.Context, provider services.TaskProvider, taskID string) (*services.Relayed, error) {
	if a.tasks == nil {
		return nil, fmt.Errorf("task service: %w", ErrNotInitialized)
	}
	return a.tasks.Query(ctx, provider, taskID)
}

// GoogleToken mints a service account assertion and exchanges it for an access token
func (a *App) GoogleToken(ctx context.Context) (*services.Relayed, error) {
	if a.googleAuth == nil {
		return nil, fmt.Errorf("google auth service: %w", ErrNotInitialized)
	}
	return a.googleAuth.Authenticate(ctx)
}

// ReadSheet reads a range using the caller's credentials
func (a *App) ReadSheet(ctx context.Context, authorization, rangeName string) (*services.Relayed, error) {
	if a.sheets == nil {
		return nil, fmt.Errorf("sheets service: %w", ErrNotInitialized)
	}
	return a.sheets.Read(ctx, authorization, rangeName)
}

// AppendSheet appends rows using the caller's credentials
func (a *App) AppendSheet(ctx context.Context, authorization, sheet string, values json.RawMessage) (*services.Relayed, error) {
	if a.sheets == nil {
		return nil, fmt.Errorf("sheets service: %w", ErrNotInitialized)
	}
	return a.sheets.Append(ctx, authorization, sheet, values)
}

// EnhancePrompt rewrites an image prompt
func (a *App) EnhancePrompt(ctx context.Context, prompt string, hasReference bool) (string, error) {
	if a.assist == nil {
		return "", fmt.Errorf("assist service: %w", ErrNotInitialized)
	}
	return a.assist.EnhancePrompt(ctx, prompt, hasReference)
}

// VideoPrompt converts an image prompt into an animation prompt
func (a *App) VideoPrompt(ctx context.Context, prompt string) (string, error) {
	if a.assist == nil {
		return "", fmt.Errorf("assist service: %w", ErrNotInitialized)
	}
	return a.assist.VideoPrompt(ctx, prompt)
}

// DescribeImage describes a base64 encoded image
func (a *App) DescribeImage(ctx context.Context, imageData string) (string, error) {
	if a.assist == nil {
		return "", fmt.Errorf("assist service: %w", ErrNotInitialized)
	}
	return a.assist.DescribeImage(ctx, imageData)
}

// SaveUpload decodes fileData and stores it as filename
func (a *App) SaveUpload(filename, fileData string) (*storage.StoredFile, error) {
	metrics := observability.GetMetrics()
	if a.media == nil {
		return nil, fmt.Errorf("media store: %w", ErrNotInitialized)
	}

	if err := storage.ValidateFilename(filename); err != nil {
		metrics.RecordUpload("rejected", 0)
		return nil, err
	}

	data, err := storage.DecodeFileData(fileData)
	if err != nil {
		metrics.RecordUpload("rejected", 0)
		return nil, err
	}

	stored, err := a.media.Save(filename, data)
	if err != nil {
		metrics.RecordUpload("error", 0)
		return nil, err
	}

	metrics.RecordUpload("success", len(data))
	observability.Info("upload stored", "filename", stored.Name, "bytes", stored.Size)
	return stored, nil
}

// OpenUpload opens a stored upload for reading. The caller must close the file.
func (a *App) OpenUpload(name string) (*os.File, fs.FileInfo, error) {
	if a.media == nil {
		return nil, nil, fmt.Errorf("media store: %w", ErrNotInitialized)
	}
	return a.media.Open(name)
}

// Service states reported by Health
const (
	StateConfigured    = "configured"
	StateNotConfigured = "not_configured"
	StateWritable      = "writable"
	StateUnavailable   = "unavailable"
)

// ServiceHealth lists the state of each upstream and the uploads directory
type ServiceHealth struct {
	ImageAPI string `json:"imageApi"`
	Google   string `json:"google"`
	Assist   string `json:"assist"`
	Uploads  string `json:"uploads"`
}

// HealthStatus is the /api/health response body
type HealthStatus struct {
	Status    string        `json:"status"`
	Services  ServiceHealth `json:"services"`
	CheckedAt time.Time     `json:"checkedAt"`
}

func configuredState(ok bool) string {
	if ok {
		return StateConfigured
	}
	return StateNotConfigured
}

// Health reports which upstreams have credentials and whether uploads can be written
func (a *App) Health() HealthStatus {
	status := HealthStatus{
		Status: "ok",
		Services: ServiceHealth{
			ImageAPI: configuredState(a.tasks != nil && a.cfg.HasImageAPI()),
			Google:   configuredState(a.googleAuth != nil && a.cfg.HasGoogle()),
			Assist:   configuredState(a.assist != nil && a.cfg.HasAssist()),
			Uploads:  StateWritable,
		},
		CheckedAt: time.Now().UTC(),
	}

	if a.media == nil {
		status.Services.Uploads = StateUnavailable
	} else if err := a.media.Ready(); err != nil {
		observability.WithError(err).Warn("uploads directory unavailable")
		status.Services.Uploads = StateUnavailable
	}
	if status.Services.Uploads == StateUnavailable {
		status.Status = "degraded"
	}
	return status
}
