package tts

import (
	"context"

	"github.com/loqalabs/toneshift/internal/eleven"
)

type elevenSynth struct {
	client       *eleven.Client
	modelID      string
	outputFormat string
}

// NewElevenSynth synthesizes through the ElevenLabs text-to-speech API.
func NewElevenSynth(client *eleven.Client, modelID, outputFormat string) Synthesizer {
	return &elevenSynth{client: client, modelID: modelID, outputFormat: outputFormat}
}

func (e *elevenSynth) Synthesize(ctx context.Context, req SynthRequest) (Audio, error) {
	settings := VoiceSettings(req.Preset, req.Speed)
	audio, err := e.client.TextToSpeech(ctx, eleven.TTSRequest{
		Text:          req.Text,
		VoiceID:       req.VoiceID,
		ModelID:       e.modelID,
		OutputFormat:  e.outputFormat,
		VoiceSettings: &settings,
	})
	if err != nil {
		return Audio{}, err
	}
	return Audio{Data: audio.Data, ContentType: audio.ContentType, Format: audio.Format}, nil
}
