package scenarios

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pageharness/internal/harness"
	"github.com/roach88/pageharness/internal/stub"
	"github.com/roach88/pageharness/internal/testutil"
)

var sampleRoot = filepath.Join("testdata", "root")

const (
	inputSel  = "#reskin-root .rv-ai-qa-input"
	submitSel = "#reskin-root .rv-ai-qa-submit"
	answerSel = "#reskin-root .rv-ai-qa-answer"
	targetRow = "thread-f:123"
)

var (
	argsLine    = regexp.MustCompile(`const args = (.*);`)
	pendingLine = regexp.MustCompile(`const pending = (.*);`)
)

const thinking = "Thinking..."

// inboxPage models the sample root's triage.js and content.js, and the
// injected stub, on top of a FakePage.
type inboxPage struct {
	*testutil.FakePage

	mu           sync.Mutex
	rows         map[string]string // thread id -> link href
	markers      map[string]string // thread id -> marker aria-label
	hash         string
	triageLoaded bool
	labelCalls   []labelRef

	// stuckThinking leaves the answer on its placeholder after a click.
	stuckThinking bool
}

type labelRef struct {
	ThreadID string `json:"threadId"`
	Href     string `json:"href"`
}

func newInboxPage(t *testing.T, sc *harness.Scenario) *inboxPage {
	t.Helper()

	p := &inboxPage{
		FakePage: testutil.NewFakePage(),
		rows:     map[string]string{targetRow: "#thread-f:123", "thread-f:456": "#thread-f:456"},
		markers:  map[string]string{},
	}

	module, err := sc.Stub.Module()
	require.NoError(t, err)

	p.OnScript(`window["ReskinAI"]`, func() { p.DefineGlobal("ReskinAI") })
	p.OnScript("window.ReskinTriage = ", func() {
		p.mu.Lock()
		p.triageLoaded = true
		p.mu.Unlock()
		p.DefineGlobal("ReskinTriage")
	})
	p.OnScript("rv-ai-qa-input", func() {
		p.AddSelector(inputSel)
		p.AddSelector(submitSel)
		p.SetText(answerSel, "")
	})
	p.OnClick(submitSel, func() {
		p.SetText(answerSel, thinking)
		p.mu.Lock()
		stuck := p.stuckThinking
		p.mu.Unlock()
		if stuck {
			return
		}
		reply := module.Chat([]stub.Message{
			{Role: "system", Content: "You answer questions about the inbox."},
			{Role: "user", Content: p.Value(inputSel)},
		})
		time.AfterFunc(5*time.Millisecond, func() { p.SetText(answerSel, reply) })
	})

	p.HandleEvaluate(fmt.Sprintf("%q", answerSel), func(expr string) (any, error) {
		text, ok := p.Text(answerSel)
		text = strings.TrimSpace(text)
		if !ok || text == "" {
			return false, nil
		}
		var pending []string
		if m := pendingLine.FindStringSubmatch(expr); m != nil {
			if err := json.Unmarshal([]byte(m[1]), &pending); err != nil {
				return nil, err
			}
		}
		return !slices.Contains(pending, text), nil
	})
	p.HandleEvaluate("saveSettings", func(string) (any, error) {
		before := module.Settings()
		saved, err := module.Save(map[string]any{"model": "patched-model", "batchSize": 99})
		if err != nil {
			return nil, err
		}
		after := module.Settings()
		return json.RawMessage(fmt.Sprintf(`{"saved":%q,"model":%q,"batchSize":%d,"unchanged":%t}`,
			saved.Model, after.Model, after.BatchSize, before == after)), nil
	})
	p.HandleEvaluate("applyLabelToMessage", p.applyLabel)
	p.HandleEvaluate("marker.remove()", func(string) (any, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.markers, targetRow)
		p.hash = "#inbox"
		return nil, nil
	})
	return p
}

func (p *inboxPage) applyLabel(expr string) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.triageLoaded {
		return json.RawMessage(`{"ok":false,"reason":"missing-module"}`), nil
	}

	m := argsLine.FindStringSubmatch(expr)
	if m == nil {
		return nil, fmt.Errorf("no args in %q", expr)
	}
	var args []json.RawMessage
	if err := json.Unmarshal([]byte(m[1]), &args); err != nil {
		return nil, err
	}
	var ref labelRef
	var label string
	if err := json.Unmarshal(args[0], &ref); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(args[1], &label); err != nil {
		return nil, err
	}
	p.labelCalls = append(p.labelCalls, ref)

	ok := false
	if row := p.resolve(ref); row != "" {
		p.markers[row] = "Triage/" + strings.ToUpper(label[:1]) + label[1:]
		ok = true
	}
	return json.RawMessage(fmt.Sprintf(`{"ok":%t,"marker":%q,"hash":%q}`, ok, p.markers[targetRow], p.hash)), nil
}

// resolve finds a row by thread id first, then by href.
func (p *inboxPage) resolve(ref labelRef) string {
	id := strings.TrimPrefix(ref.ThreadID, "#")
	for _, candidate := range []string{id, "thread-" + id} {
		if _, ok := p.rows[candidate]; id != "" && ok {
			return candidate
		}
	}
	for row, href := range p.rows {
		if ref.Href != "" && href == ref.Href {
			return row
		}
	}
	return ""
}

func testOptions() harness.Options {
	return harness.Options{
		Root:         sampleRoot,
		WaitTimeout:  100 * time.Millisecond,
		PollInterval: time.Millisecond,
	}
}

func run(t *testing.T, sc *harness.Scenario, page *inboxPage) *harness.Result {
	t.Helper()
	result, err := harness.Run(context.Background(), sc, page, testOptions())
	require.NoError(t, err)
	return result
}

func mustLoad(t *testing.T, name string) *harness.Scenario {
	t.Helper()
	sc, err := Load(name)
	require.NoError(t, err)
	return sc
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"chat", "triage"}, Names())
}

func TestLoad_Unknown(t *testing.T) {
	_, err := Load("inbox")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown scenario "inbox"`)
	assert.Contains(t, err.Error(), "chat, triage")
}

func TestLoadAll(t *testing.T) {
	all, err := LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "chat", all[0].Name)
	assert.Equal(t, "triage", all[1].Name)
}

func TestChat_Definition(t *testing.T) {
	sc := mustLoad(t, "chat")

	assert.Equal(t, "inbox", sc.Fragment)
	assert.False(t, sc.Stub.Disabled)
	require.Len(t, sc.Scripts, 2)
	assert.Equal(t, "triage.js", sc.Scripts[0].Path)
	assert.Equal(t, "content.js", sc.Scripts[1].Path)
	assert.Equal(t, []string{"ReskinAI", "ReskinTriage"}, sc.Scripts[1].Requires)
	assert.Equal(t, 10*time.Second, sc.Steps[0].Timeout)
	assert.Equal(t, "what happened yesterday", sc.Steps[1].Value)
}

func TestChat_YesterdayQuestionPasses(t *testing.T) {
	sc := mustLoad(t, "chat")
	page := newInboxPage(t, sc)

	result := run(t, sc, page)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 0, result.ExitCode())

	answer, ok := result.Lookup("ANSWER")
	require.True(t, ok)
	assert.Contains(t, answer.String(), "Yesterday:")
	assert.Equal(t, "what happened yesterday", page.Value(inputSel))

	var buf bytes.Buffer
	assert.Equal(t, 0, harness.Report(&buf, result))
	assert.Equal(t, "ANSWER Yesterday: security alert from alerts@example.com\n"+
		`SETTINGS {saved: "patched-model", model: "llama-3.1-8b-instant", batchSize: 5, unchanged: true}`+"\n"+
		"PASS chat\n", buf.String())
}

func TestChat_QuestionWithoutKeywordFails(t *testing.T) {
	for _, question := range []string{"what happened today", "summarize my inbox", "Yesterday?"} {
		t.Run(question, func(t *testing.T) {
			sc := mustLoad(t, "chat")
			sc.Steps[1].Value = question

			result := run(t, sc, newInboxPage(t, sc))
			assert.False(t, result.Pass)
			assert.Equal(t, 1, result.ExitCode())
			assert.Nil(t, result.Failure)

			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], "Assertion failed: contains ANSWER")

			answer, ok := result.Lookup("ANSWER")
			require.True(t, ok)
			assert.NotContains(t, answer.String(), "Yesterday:")
		})
	}
}

func TestChat_TimesOutWhenScriptsOmitted(t *testing.T) {
	sc := mustLoad(t, "chat")
	sc.Scripts = nil
	bound := 50 * time.Millisecond
	sc.Steps[0].Timeout = bound

	start := time.Now()
	result := run(t, sc, newInboxPage(t, sc))
	elapsed := time.Since(start)

	assert.False(t, result.Pass)
	var timeoutErr *harness.TimeoutError
	require.ErrorAs(t, result.Failure, &timeoutErr)
	assert.Equal(t, inputSel, timeoutErr.Selector)
	assert.GreaterOrEqual(t, elapsed, bound)
	assert.Less(t, elapsed, bound+2*time.Second)
}

func TestChat_PlaceholderNeverCaptured(t *testing.T) {
	sc := mustLoad(t, "chat")
	var buf bytes.Buffer

	result := run(t, sc, newInboxPage(t, sc))
	harness.Report(&buf, result)

	assert.True(t, result.Pass)
	assert.NotContains(t, buf.String(), thinking)
}

func TestChat_TimesOutWhileThinking(t *testing.T) {
	sc := mustLoad(t, "chat")
	idx := slices.IndexFunc(sc.Steps, func(s harness.Step) bool { return s.Action == harness.ActionWaitText })
	require.GreaterOrEqual(t, idx, 0)
	require.Equal(t, []string{thinking}, sc.Steps[idx].Pending)
	sc.Steps[idx].Timeout = 50 * time.Millisecond

	page := newInboxPage(t, sc)
	page.stuckThinking = true
	result := run(t, sc, page)

	assert.False(t, result.Pass)
	var timeoutErr *harness.TimeoutError
	require.ErrorAs(t, result.Failure, &timeoutErr)
	assert.Equal(t, harness.ActionWaitText, timeoutErr.Action)
	assert.Equal(t, answerSel, timeoutErr.Selector)
	assert.Equal(t, idx, timeoutErr.Step)
}

func TestChat_LoadOrderViolation(t *testing.T) {
	sc := mustLoad(t, "chat")
	sc.Scripts[0], sc.Scripts[1] = sc.Scripts[1], sc.Scripts[0]

	result := run(t, sc, newInboxPage(t, sc))

	var capErr *harness.MissingCapabilityError
	require.ErrorAs(t, result.Failure, &capErr)
	assert.Equal(t, "ReskinTriage", capErr.Global)
	assert.Equal(t, harness.PhaseBeforeLoad, capErr.Phase)
}

func TestChat_SettingsSnapshotUnchanged(t *testing.T) {
	sc := mustLoad(t, "chat")

	result := run(t, sc, newInboxPage(t, sc))
	settings, ok := result.Lookup("SETTINGS")
	require.True(t, ok)

	saved, _ := settings.Field("saved")
	model, _ := settings.Field("model")
	unchanged, _ := settings.Field("unchanged")
	assert.Equal(t, "patched-model", saved.Text())
	assert.Equal(t, "llama-3.1-8b-instant", model.Text())
	assert.True(t, unchanged.Truthy())
}

func TestTriage_Definition(t *testing.T) {
	sc := mustLoad(t, "triage")

	assert.True(t, sc.Stub.Disabled)
	assert.Empty(t, sc.Fragment)
	require.Len(t, sc.Steps, 3)
	assert.Equal(t, sc.Steps[0].Collect, sc.Steps[2].Collect)
	assert.Equal(t, []any{
		map[string]any{"threadId": "f:123", "href": "", "row": nil},
		"critical",
	}, sc.Steps[2].Args)
}

func TestTriage_BothAddressingPathsLabelTheRow(t *testing.T) {
	sc := mustLoad(t, "triage")
	page := newInboxPage(t, sc)

	result := run(t, sc, page)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	withHref, ok := result.Lookup("RESULT_WITH_HREF")
	require.True(t, ok)
	withoutHref, ok := result.Lookup("RESULT_WITHOUT_HREF")
	require.True(t, ok)

	for _, res := range []harness.InteractionResult{withHref, withoutHref} {
		okField, _ := res.Field("ok")
		marker, _ := res.Field("marker")
		assert.True(t, okField.Truthy(), res.Name)
		assert.Equal(t, "Triage/Critical", marker.Text(), res.Name)
	}

	hashBefore, _ := withHref.Field("hash")
	hashAfter, _ := withoutHref.Field("hash")
	assert.Equal(t, "", hashBefore.Text())
	assert.Equal(t, "#inbox", hashAfter.Text())

	var buf bytes.Buffer
	assert.Equal(t, 0, harness.Report(&buf, result))
	assert.Equal(t, `RESULT_WITH_HREF {ok: true, marker: "Triage/Critical", hash: ""}`+"\n"+
		`RESULT_WITHOUT_HREF {ok: true, marker: "Triage/Critical", hash: "#inbox"}`+"\n"+
		"PASS triage\n", buf.String())
}

func TestTriage_RelabelsFromThreadIdAfterMarkerRemoval(t *testing.T) {
	sc := mustLoad(t, "triage")
	page := newInboxPage(t, sc)

	result := run(t, sc, page)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	page.mu.Lock()
	defer page.mu.Unlock()
	require.Len(t, page.labelCalls, 2)
	assert.Equal(t, labelRef{ThreadID: "#thread-f:123", Href: "#thread-f:123"}, page.labelCalls[0])
	assert.Equal(t, labelRef{ThreadID: "f:123", Href: ""}, page.labelCalls[1])
	assert.Equal(t, "Triage/Critical", page.markers[targetRow])
	assert.NotContains(t, page.markers, "thread-f:456")
}

func TestTriage_WrongRowFailsPredicate(t *testing.T) {
	sc := mustLoad(t, "triage")
	sc.Steps[2].Args = []any{map[string]any{"threadId": "f:999", "href": "", "row": nil}, "critical"}

	result := run(t, sc, newInboxPage(t, sc))
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "truthy RESULT_WITHOUT_HREF.ok")
	assert.Contains(t, result.Errors[1], "equals_fold RESULT_WITHOUT_HREF.marker")
}

func TestTriage_MissingModuleIsDistinct(t *testing.T) {
	sc := mustLoad(t, "triage")
	sc.Scripts = []harness.ScriptRef{{Path: "content.js"}}

	result := run(t, sc, newInboxPage(t, sc))
	assert.False(t, result.Pass)

	var capErr *harness.MissingCapabilityError
	require.ErrorAs(t, result.Failure, &capErr)
	assert.Equal(t, harness.PhaseCall, capErr.Phase)

	var buf bytes.Buffer
	assert.Equal(t, 1, harness.Report(&buf, result))
	assert.Equal(t, `RESULT_WITH_HREF {ok: false, reason: "missing-module"}`+"\n"+
		"missing dependency: window.ReskinTriage.applyLabelToMessage is not loaded (missing-module)\n"+
		"FAIL triage\n", buf.String())
}

func TestTriage_UndefinedProviderFailsAtLoad(t *testing.T) {
	sc := mustLoad(t, "triage")
	sc.Scripts = []harness.ScriptRef{{Path: "content.js", Provides: "ReskinTriage"}}

	result := run(t, sc, newInboxPage(t, sc))

	var capErr *harness.MissingCapabilityError
	require.ErrorAs(t, result.Failure, &capErr)
	assert.Equal(t, harness.PhaseAfterLoad, capErr.Phase)
	assert.Empty(t, result.Results)
}
