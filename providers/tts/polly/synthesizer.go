package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
)

const (
	EnvRegion = "HANDOFF_TTS_POLLY_REGION"
	EnvVoice  = "HANDOFF_TTS_POLLY_VOICE"
	EnvEngine = "HANDOFF_TTS_POLLY_ENGINE"
)

const maxAnnouncementBytes = 1 << 20

// ErrTextRejected marks input Polly refused (too long, bad markup). Not
// retryable; callers degrade to a data-only notification.
var ErrTextRejected = errors.New("synthesis text rejected")

// ErrSynthesisUnavailable marks transient provider failures.
var ErrSynthesisUnavailable = errors.New("synthesis unavailable")

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// Config controls announcement synthesis.
type Config struct {
	Region  string
	VoiceID string
	Engine  string
	Timeout time.Duration
}

// ConfigFromEnv loads Polly settings from HANDOFF_TTS_POLLY_* variables,
// falling back to the ambient AWS region.
func ConfigFromEnv() Config {
	return Config{
		Region:  defaultString(os.Getenv(EnvRegion), defaultString(os.Getenv("AWS_REGION"), "us-east-1")),
		VoiceID: defaultString(os.Getenv(EnvVoice), "Joanna"),
		Engine:  defaultString(os.Getenv(EnvEngine), "neural"),
		Timeout: 15 * time.Second,
	}
}

// Synthesizer renders short spoken announcements as MP3 via Amazon Polly.
type Synthesizer struct {
	mu     sync.Mutex
	client synthClient
	cfg    Config
}

// NewSynthesizer builds a synthesizer; the AWS client is resolved lazily
// from ambient credentials on first use.
func NewSynthesizer(cfg Config) *Synthesizer {
	return NewSynthesizerWithClient(cfg, nil)
}

// NewSynthesizerWithClient injects a client, for tests.
func NewSynthesizerWithClient(cfg Config, client synthClient) *Synthesizer {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = "Joanna"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Synthesizer{client: client, cfg: cfg}
}

// Synthesize renders text to MP3 bytes. The audio is bounded; an oversize
// stream is treated as a provider fault rather than forwarded.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrTextRejected)
	}
	client, err := s.resolveClient()
	if err != nil {
		return nil, err
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(s.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	output, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(s.cfg.VoiceID),
	})
	if err != nil {
		return nil, classifyError(err)
	}
	if output == nil || output.AudioStream == nil {
		return nil, fmt.Errorf("%w: empty audio stream", ErrSynthesisUnavailable)
	}
	defer output.AudioStream.Close()

	audio, err := io.ReadAll(io.LimitReader(output.AudioStream, maxAnnouncementBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %v", ErrSynthesisUnavailable, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio stream", ErrSynthesisUnavailable)
	}
	if len(audio) > maxAnnouncementBytes {
		return nil, fmt.Errorf("%w: announcement exceeds %d bytes", ErrSynthesisUnavailable, maxAnnouncementBytes)
	}
	return audio, nil
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrSynthesisUnavailable, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException", "MarksNotSupportedForFormatException", "InvalidSampleRateException":
			return fmt.Errorf("%w: %s", ErrTextRejected, apiErr.ErrorCode())
		default:
			return fmt.Errorf("%w: %s", ErrSynthesisUnavailable, apiErr.ErrorCode())
		}
	}
	return fmt.Errorf("%w: %v", ErrSynthesisUnavailable, err)
}

func defaultString(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func (s *Synthesizer) resolveClient() (synthClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(s.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	s.client = polly.NewFromConfig(awsCfg)
	return s.client, nil
}
