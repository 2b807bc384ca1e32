package stt

import (
	"context"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
)

type GoogleSpeech struct {
	c *speech.Client

	Encoding     speechpb.RecognitionConfig_AudioEncoding
	SampleRateHz int32
}

func NewGoogleSpeech(ctx context.Context) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GoogleSpeech{
		c:            c,
		Encoding:     speechpb.RecognitionConfig_LINEAR16,
		SampleRateHz: 16000,
	}, nil
}

func (g *GoogleSpeech) Close() error { return g.c.Close() }

// language example: "en-US", "id-ID"
func (g *GoogleSpeech) Transcribe(ctx context.Context, audio []byte, language string) ([]Segment, error) {
	if language == "" {
		language = "en-US"
	}

	resp, err := g.c.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   g.Encoding,
			SampleRateHertz:            g.SampleRateHz,
			LanguageCode:               language,
			EnableAutomaticPunctuation: true,
			EnableWordTimeOffsets:      true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return nil, err
	}

	var segments []Segment
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		// best alternative first per the API contract
		alt := r.Alternatives[0]
		if alt.Transcript == "" {
			continue
		}

		seg := Segment{
			Text:       alt.Transcript,
			Confidence: float64(alt.Confidence),
		}
		if end := r.ResultEndTime.AsDuration(); end > 0 {
			seg.Offset = segmentStart(alt)
			seg.Duration = end - seg.Offset
			if seg.Duration < 0 {
				seg.Duration = 0
			}
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

// segmentStart takes the first word's start offset; results without word
// timing fall back to offset zero.
func segmentStart(alt *speechpb.SpeechRecognitionAlternative) time.Duration {
	if len(alt.Words) == 0 || alt.Words[0].StartTime == nil {
		return 0
	}
	return alt.Words[0].StartTime.AsDuration()
}
