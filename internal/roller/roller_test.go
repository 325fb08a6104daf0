package roller_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"rollgen/internal/llm"
	"rollgen/internal/roller"
	"rollgen/internal/roller/mocks"

	"go.uber.org/mock/gomock"
)

func init() {
	// Set default logger to discard output for cleaner test output
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNewService(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockGateway := mocks.NewMockGateway(ctrl)
	svc := roller.NewService(mockGateway)

	if svc == nil {
		t.Fatal("NewService() returned nil")
	}
}

func TestService_Generate_ThreePartStory(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockGateway := mocks.NewMockGateway(ctrl)
	svc := roller.NewService(mockGateway)

	responses := []string{"Part 1...", "Part 2...", "Part 3...<<END-TASK>>"}
	call := 0
	mockGateway.EXPECT().
		Complete(gomock.Any(), gomock.Any(), 100).
		DoAndReturn(func(_ context.Context, _ []llm.Message, _ int) (string, error) {
			resp := responses[call]
			call++
			return resp, nil
		}).
		Times(3)

	res, err := svc.Generate(context.Background(), roller.TaskConfig{
		Prompt:           "Write a 3-part story",
		MaxTokensPerCall: 100,
		StopMarker:       "<<END-TASK>>",
	})
	if err != nil {
		t.Fatalf("Generate() unexpected error: %v", err)
	}
	if res.Text != "Part 1...Part 2...Part 3..." {
		t.Errorf("Generate() text = %q, want %q", res.Text, "Part 1...Part 2...Part 3...")
	}
	if strings.Contains(res.Text, "<<END-TASK>>") {
		t.Error("Generate() finalized text contains the stop marker")
	}
	if res.Calls != 3 {
		t.Errorf("Generate() calls = %d, want 3", res.Calls)
	}
}

func TestService_Generate(t *testing.T) {
	tests := []struct {
		name         string
		cfg          roller.TaskConfig
		mockSetup    func(m *mocks.MockGateway)
		wantText     string
		wantCalls    int
		wantErr      bool
		checkErrType func(error) bool
	}{
		{
			name: "marker with trailing text is stripped",
			cfg: roller.TaskConfig{
				Prompt:           "Write something",
				MaxTokensPerCall: 50,
				StopMarker:       "<<END>>",
			},
			mockSetup: func(m *mocks.MockGateway) {
				m.EXPECT().
					Complete(gomock.Any(), gomock.Any(), 50).
					Return("all done<<END>>trailing junk", nil)
			},
			wantText:  "all done",
			wantCalls: 1,
		},
		{
			name: "marker spanning two calls is detected",
			cfg: roller.TaskConfig{
				Prompt:           "Write something",
				MaxTokensPerCall: 50,
				StopMarker:       "DONE-TASK",
			},
			mockSetup: func(m *mocks.MockGateway) {
				gomock.InOrder(
					m.EXPECT().
						Complete(gomock.Any(), gomock.Any(), 50).
						Return("the story ends here DON", nil),
					m.EXPECT().
						Complete(gomock.Any(), gomock.Any(), 50).
						Return("E-TASK", nil),
				)
			},
			wantText:  "the story ends here ",
			wantCalls: 2,
		},
		{
			name: "empty prompt",
			cfg: roller.TaskConfig{
				Prompt:           "  ",
				MaxTokensPerCall: 50,
			},
			mockSetup: func(m *mocks.MockGateway) {},
			wantErr:   true,
			checkErrType: func(err error) bool {
				var vErr *roller.ValidationError
				return errors.As(err, &vErr) && vErr.Field == "prompt"
			},
		},
		{
			name: "non-positive token cap",
			cfg: roller.TaskConfig{
				Prompt:           "Write something",
				MaxTokensPerCall: 0,
			},
			mockSetup: func(m *mocks.MockGateway) {},
			wantErr:   true,
			checkErrType: func(err error) bool {
				var vErr *roller.ValidationError
				return errors.As(err, &vErr) && vErr.Field == "max_tokens_per_call"
			},
		},
		{
			name: "gateway failure surfaces immediately",
			cfg: roller.TaskConfig{
				Prompt:           "Write something",
				MaxTokensPerCall: 50,
			},
			mockSetup: func(m *mocks.MockGateway) {
				m.EXPECT().
					Complete(gomock.Any(), gomock.Any(), 50).
					Return("", errors.New("rate limited"))
			},
			wantErr: true,
			checkErrType: func(err error) bool {
				var gwErr *roller.GatewayError
				return errors.As(err, &gwErr) && gwErr.Call == 1
			},
		},
		{
			name: "limit exceeded after exactly five calls",
			cfg: roller.TaskConfig{
				Prompt:           "Write something",
				MaxTokensPerCall: 50,
				StopMarker:       "<<END>>",
				MaxCalls:         5,
			},
			mockSetup: func(m *mocks.MockGateway) {
				// Times(5) fails the test if a sixth call is issued.
				m.EXPECT().
					Complete(gomock.Any(), gomock.Any(), 50).
					Return("still going", nil).
					Times(5)
			},
			wantErr: true,
			checkErrType: func(err error) bool {
				var limErr *roller.LimitError
				return errors.As(err, &limErr) && limErr.MaxCalls == 5
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockGateway := mocks.NewMockGateway(ctrl)
			tt.mockSetup(mockGateway)
			svc := roller.NewService(mockGateway)

			res, err := svc.Generate(context.Background(), tt.cfg)

			if tt.wantErr {
				if err == nil {
					t.Fatal("Generate() expected error, got nil")
				}
				if tt.checkErrType != nil && !tt.checkErrType(err) {
					t.Errorf("Generate() error type mismatch: %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Generate() unexpected error: %v", err)
			}
			if res.Text != tt.wantText {
				t.Errorf("Generate() text = %q, want %q", res.Text, tt.wantText)
			}
			if res.Calls != tt.wantCalls {
				t.Errorf("Generate() calls = %d, want %d", res.Calls, tt.wantCalls)
			}
		})
	}
}

func TestService_Generate_ConversationCoherence(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockGateway := mocks.NewMockGateway(ctrl)
	svc := roller.NewService(mockGateway)

	responses := []string{"first", "second", "third<<END>>"}
	var conversations [][]llm.Message
	mockGateway.EXPECT().
		Complete(gomock.Any(), gomock.Any(), 64).
		DoAndReturn(func(_ context.Context, messages []llm.Message, _ int) (string, error) {
			conversations = append(conversations, append([]llm.Message(nil), messages...))
			return responses[len(conversations)-1], nil
		}).
		Times(3)

	_, err := svc.Generate(context.Background(), roller.TaskConfig{
		Prompt:              "Write something long",
		MaxTokensPerCall:    64,
		StopMarker:          "<<END>>",
		ContinueInstruction: "keep going",
	})
	if err != nil {
		t.Fatalf("Generate() unexpected error: %v", err)
	}

	// Call N sees system + task prompt, plus one assistant/continue pair
	// per prior call, all in original order.
	for i, conv := range conversations {
		wantLen := 2 + 2*i
		if len(conv) != wantLen {
			t.Fatalf("call %d conversation length = %d, want %d", i+1, len(conv), wantLen)
		}
		if conv[0].Role != llm.RoleSystem {
			t.Errorf("call %d message 0 role = %q, want system", i+1, conv[0].Role)
		}
		if !strings.Contains(conv[0].Content, "<<END>>") {
			t.Errorf("call %d system message does not mention the stop marker", i+1)
		}
		if conv[1].Role != llm.RoleUser || conv[1].Content != "Write something long" {
			t.Errorf("call %d message 1 = %+v, want task prompt", i+1, conv[1])
		}
		for j := 0; j < i; j++ {
			assistant := conv[2+2*j]
			continuation := conv[3+2*j]
			if assistant.Role != llm.RoleAssistant || assistant.Content != responses[j] {
				t.Errorf("call %d assistant message %d = %+v, want %q", i+1, j, assistant, responses[j])
			}
			if continuation.Role != llm.RoleUser || continuation.Content != "keep going" {
				t.Errorf("call %d continuation message %d = %+v, want %q", i+1, j, continuation, "keep going")
			}
		}
	}
}

func TestService_Generate_DefaultsApplied(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockGateway := mocks.NewMockGateway(ctrl)
	svc := roller.NewService(mockGateway)

	mockGateway.EXPECT().
		Complete(gomock.Any(), gomock.Any(), 32).
		DoAndReturn(func(_ context.Context, messages []llm.Message, _ int) (string, error) {
			if !strings.Contains(messages[0].Content, roller.DefaultStopMarker) {
				t.Errorf("system prompt does not contain default stop marker")
			}
			return "done" + roller.DefaultStopMarker, nil
		})

	res, err := svc.Generate(context.Background(), roller.TaskConfig{
		Prompt:           "Write something",
		MaxTokensPerCall: 32,
	})
	if err != nil {
		t.Fatalf("Generate() unexpected error: %v", err)
	}
	if res.Text != "done" {
		t.Errorf("Generate() text = %q, want %q", res.Text, "done")
	}
}

// streamCall has the mock gateway deliver the given fragments in order.
func streamCall(m *mocks.MockGateway, maxTokens int, fragments []string, streamErr error) *gomock.Call {
	return m.EXPECT().
		StreamComplete(gomock.Any(), gomock.Any(), maxTokens, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ []llm.Message, _ int, fn func(string) error) error {
			for _, f := range fragments {
				if err := fn(f); err != nil {
					return err
				}
			}
			return streamErr
		})
}

func TestService_GenerateStream(t *testing.T) {
	tests := []struct {
		name         string
		cfg          roller.TaskConfig
		mockSetup    func(m *mocks.MockGateway)
		wantText     string
		wantCalls    int
		wantSink     []string
		wantErr      bool
		checkErrType func(error) bool
	}{
		{
			name: "fragments forwarded and marker suppressed",
			cfg: roller.TaskConfig{
				Prompt:           "Write a 3-part story",
				MaxTokensPerCall: 100,
				StopMarker:       "<<END-TASK>>",
			},
			mockSetup: func(m *mocks.MockGateway) {
				gomock.InOrder(
					streamCall(m, 100, []string{"Part 1", "..."}, nil),
					streamCall(m, 100, []string{"Part 2..."}, nil),
					streamCall(m, 100, []string{"Part 3...", "<<END-TASK>>"}, nil),
				)
			},
			wantText:  "Part 1...Part 2...Part 3...",
			wantCalls: 3,
			wantSink:  []string{"Part 1", "...", "Part 2...", "Part 3..."},
		},
		{
			name: "marker split across fragments is never emitted",
			cfg: roller.TaskConfig{
				Prompt:           "Write something",
				MaxTokensPerCall: 100,
				StopMarker:       "DONE-TASK",
			},
			mockSetup: func(m *mocks.MockGateway) {
				streamCall(m, 100, []string{"the end DON", "E-TASK and more"}, nil)
			},
			wantText:  "the end ",
			wantCalls: 1,
			wantSink:  []string{"the end "},
		},
		{
			name: "false marker prefix flushed at end of call",
			cfg: roller.TaskConfig{
				Prompt:           "Write something",
				MaxTokensPerCall: 100,
				StopMarker:       "‡‡‡‡‡",
			},
			mockSetup: func(m *mocks.MockGateway) {
				gomock.InOrder(
					streamCall(m, 100, []string{"hello ‡‡"}, nil),
					streamCall(m, 100, []string{"done", "‡‡‡‡‡"}, nil),
				)
			},
			wantText:  "hello ‡‡done",
			wantCalls: 2,
			wantSink:  []string{"hello ", "‡‡", "done"},
		},
		{
			name: "mid-stream gateway failure discards the call",
			cfg: roller.TaskConfig{
				Prompt:           "Write something",
				MaxTokensPerCall: 100,
			},
			mockSetup: func(m *mocks.MockGateway) {
				streamCall(m, 100, []string{"partial "}, errors.New("connection reset"))
			},
			wantErr: true,
			checkErrType: func(err error) bool {
				var gwErr *roller.GatewayError
				return errors.As(err, &gwErr) && gwErr.Call == 1
			},
		},
		{
			name: "limit exceeded after exactly five calls",
			cfg: roller.TaskConfig{
				Prompt:           "Write something",
				MaxTokensPerCall: 100,
				StopMarker:       "<<END>>",
				MaxCalls:         5,
			},
			mockSetup: func(m *mocks.MockGateway) {
				m.EXPECT().
					StreamComplete(gomock.Any(), gomock.Any(), 100, gomock.Any()).
					DoAndReturn(func(_ context.Context, _ []llm.Message, _ int, fn func(string) error) error {
						return fn("still going")
					}).
					Times(5)
			},
			wantErr: true,
			checkErrType: func(err error) bool {
				var limErr *roller.LimitError
				return errors.As(err, &limErr) && limErr.MaxCalls == 5
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockGateway := mocks.NewMockGateway(ctrl)
			tt.mockSetup(mockGateway)
			svc := roller.NewService(mockGateway)

			var sank []string
			res, err := svc.GenerateStream(context.Background(), tt.cfg, func(fragment string) error {
				sank = append(sank, fragment)
				return nil
			})

			if tt.wantErr {
				if err == nil {
					t.Fatal("GenerateStream() expected error, got nil")
				}
				if tt.checkErrType != nil && !tt.checkErrType(err) {
					t.Errorf("GenerateStream() error type mismatch: %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("GenerateStream() unexpected error: %v", err)
			}
			if res.Text != tt.wantText {
				t.Errorf("GenerateStream() text = %q, want %q", res.Text, tt.wantText)
			}
			if res.Calls != tt.wantCalls {
				t.Errorf("GenerateStream() calls = %d, want %d", res.Calls, tt.wantCalls)
			}
			if strings.Join(sank, "") != strings.Join(tt.wantSink, "") {
				t.Errorf("GenerateStream() sink received %q, want %q", sank, tt.wantSink)
			}
			if strings.Contains(strings.Join(sank, ""), tt.cfg.StopMarker) && tt.cfg.StopMarker != "" {
				t.Error("GenerateStream() sink received the stop marker")
			}
		})
	}
}

func TestService_GenerateStream_SinkError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockGateway := mocks.NewMockGateway(ctrl)
	svc := roller.NewService(mockGateway)

	streamCall(mockGateway, 100, []string{"fragment"}, nil)

	sinkErr := errors.New("client went away")
	_, err := svc.GenerateStream(context.Background(), roller.TaskConfig{
		Prompt:           "Write something",
		MaxTokensPerCall: 100,
	}, func(string) error {
		return sinkErr
	})
	if err == nil {
		t.Fatal("GenerateStream() expected error, got nil")
	}
	if !errors.Is(err, sinkErr) {
		t.Errorf("GenerateStream() error = %v, want wrapped sink error", err)
	}
	var gwErr *roller.GatewayError
	if errors.As(err, &gwErr) {
		t.Errorf("GenerateStream() sink error misreported as gateway error: %v", err)
	}
}

func TestService_GenerateStream_NilSink(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockGateway := mocks.NewMockGateway(ctrl)
	svc := roller.NewService(mockGateway)

	_, err := svc.GenerateStream(context.Background(), roller.TaskConfig{
		Prompt:           "Write something",
		MaxTokensPerCall: 100,
	}, nil)

	var vErr *roller.ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "sink" {
		t.Errorf("GenerateStream() error = %v, want sink validation error", err)
	}
}
