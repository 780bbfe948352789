package conversation

import (
	"context"
	"errors"
	"sync"

	"github.com/athenasql/athenasql/internal/export"
	"github.com/athenasql/athenasql/internal/query"
)

type fakeGateway struct {
	mu      sync.Mutex
	answer  string
	err     error
	block   bool
	prompts []string
}

func (f *fakeGateway) Ask(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	answer, err, block := f.answer, f.err, f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return answer, nil
}

func (f *fakeGateway) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeExecutor struct {
	mu       sync.Mutex
	result   query.Result
	err      error
	requests []query.Request
}

func (f *fakeExecutor) Execute(_ context.Context, request query.Request) (query.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, request)
	if f.err != nil {
		return query.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeExecutor) calls() []query.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]query.Request(nil), f.requests...)
}

type failingExporter struct{}

func (failingExporter) Export(context.Context, string, query.Result) (export.Artifact, error) {
	return export.Artifact{}, errors.New("disk full")
}

type sentMessage struct {
	kind     string
	target   Target
	text     string
	prompt   ModePrompt
	artifact export.Artifact
}

type recordingDelivery struct {
	mu       sync.Mutex
	messages []sentMessage
	failFile bool
}

func (d *recordingDelivery) SendText(_ context.Context, target Target, text string) error {
	d.record(sentMessage{kind: "text", target: target, text: text})
	return nil
}

func (d *recordingDelivery) SendModePrompt(_ context.Context, target Target, prompt ModePrompt) error {
	d.record(sentMessage{kind: "prompt", target: target, prompt: prompt})
	return nil
}

func (d *recordingDelivery) SendFile(_ context.Context, target Target, artifact export.Artifact, caption string) error {
	if d.failFile {
		return errors.New("upload rejected")
	}
	d.record(sentMessage{kind: "file", target: target, text: caption, artifact: artifact})
	return nil
}

func (d *recordingDelivery) record(message sentMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, message)
}

func (d *recordingDelivery) sent() []sentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentMessage(nil), d.messages...)
}

func (d *recordingDelivery) last() sentMessage {
	messages := d.sent()
	if len(messages) == 0 {
		return sentMessage{}
	}
	return messages[len(messages)-1]
}

func (d *recordingDelivery) texts() []string {
	var out []string
	for _, message := range d.sent() {
		if message.kind == "text" {
			out = append(out, message.text)
		}
	}
	return out
}
