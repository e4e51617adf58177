package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MinBZK/par-dpia-form/internal/answer"
	"github.com/MinBZK/par-dpia-form/internal/instance"
	"github.com/MinBZK/par-dpia-form/internal/model"
	"github.com/MinBZK/par-dpia-form/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namespaceState struct {
	idx       *task.Index
	instances *instance.Store
	answers   *answer.Store
	nav       Navigation
}

func newNamespace(t *testing.T, prefix string) *namespaceState {
	t.Helper()
	idx, err := task.Build([]*model.Task{
		{ID: "0", Kinds: []model.Kind{model.KindTextInput}},
		{ID: "1", Kinds: []model.Kind{model.KindTaskGroup}, Tasks: []*model.Task{
			{ID: "1.1", Kinds: []model.Kind{model.KindTaskGroup}, Repeatable: true, Tasks: []*model.Task{
				{ID: "1.1.1", Kinds: []model.Kind{model.KindCheckboxOption}},
			}},
		}},
	})
	require.NoError(t, err)
	n := 0
	instances := instance.NewStore(idx, instance.WithIDFunc(func(p string) string {
		n++
		return fmt.Sprintf("%s%s_%d", prefix, p, n)
	}))
	require.NoError(t, instances.Initialize(false))
	clock := func() time.Time { return time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC) }
	return &namespaceState{idx: idx, instances: instances, answers: answer.NewStore(clock)}
}

func (ns *namespaceState) target() Target {
	return Target{
		Instances: ns.instances,
		Answers:   ns.answers,
		HasTask:   ns.idx.Has,
		Restore:   func(nav Navigation) { ns.nav = nav },
	}
}

func savedAt() time.Time { return time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC) }

func TestSerialize_RoundTrip(t *testing.T) {
	t.Parallel()

	src := newNamespace(t, "a")
	row, err := src.instances.AddRepeatable("1.1", src.instances.InstancesOf("1")[0].ID)
	require.NoError(t, err)
	src.instances.SetMappedFrom(row, src.instances.InstancesOf("0")[0].ID)
	src.answers.Set(src.instances.InstancesOf("0")[0].ID, answer.Text("Gemeente"))
	src.answers.Set(src.instances.InstancesOf("1.1.1")[1].ID, answer.List("a", "b"))
	nav := Navigation{CurrentRootTaskID: "1", CompletedRootTaskIDs: []string{"0"}}

	snap := Serialize("dpia", src.instances, src.answers, nav, savedAt())
	raw, err := snap.Marshal()
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "2025-05-02T10:00:00.000Z", decoded.Metadata.SavedAt)
	assert.Equal(t, "dpia", decoded.Metadata.ActiveNamespace)

	dst := newNamespace(t, "b")
	untouched := newNamespace(t, "c")
	prescanBefore := untouched.instances.Snapshot()

	applied, err := Apply(decoded, map[string]Target{"dpia": dst.target(), "prescan": untouched.target()})
	require.NoError(t, err)
	assert.Equal(t, []string{"dpia"}, applied)

	assert.Equal(t, src.instances.Snapshot(), dst.instances.Snapshot())
	assert.Equal(t, src.answers.All(), dst.answers.All())
	assert.Equal(t, nav, dst.nav)
	assert.Equal(t, prescanBefore, untouched.instances.Snapshot(), "other namespaces are untouched")
	assert.Equal(t, src.instances.All(), dst.instances.All(), "tree order is restored")
}

func TestSerialize_WireFormat(t *testing.T) {
	t.Parallel()

	src := newNamespace(t, "")
	snap := Serialize("prescan", src.instances, src.answers, Navigation{CurrentRootTaskID: "0"}, savedAt())
	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc["taskState"], "prescan")
	assert.Contains(t, doc["answers"], "prescan")

	state := doc["taskState"]["prescan"].(map[string]any)
	assert.Equal(t, []any{}, state["completedRootTaskIds"])
	root := state["taskInstances"].(map[string]any)["0_1"].(map[string]any)
	assert.Nil(t, root["parentInstanceId"])
	assert.NotContains(t, root, "mappedFromInstanceId")
}

func TestDecode_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		code Code
	}{
		{"not json", `{"metadata":`, CodeMalformed},
		{"missing taskState", `{"metadata":{"savedAt":"x"},"answers":{}}`, CodeFormat},
		{"null answers", `{"metadata":{},"taskState":{},"answers":null}`, CodeFormat},
		{"empty instances", `{"metadata":{},"taskState":{"dpia":{"currentRootTaskId":"0","completedRootTaskIds":[],"taskInstances":{}}},"answers":{"dpia":{}}}`, CodeNoData},
		{"answers missing for namespace", `{"metadata":{},"taskState":{"dpia":{"taskInstances":{"i":{"id":"i","taskId":"0","groupId":"g","parentInstanceId":null,"childInstanceIds":[]}}}},"answers":{}}`, CodeNoData},
		{"bad answer value", `{"metadata":{},"taskState":{},"answers":{"dpia":{"i":{"value":3,"timestamp":""}}}}`, CodeFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "%v", err)
			assert.Equal(t, tt.code, verr.Code)
			assert.NotEmpty(t, verr.Message)
		})
	}
}

func TestDecode_SkipsPartialNamespaces(t *testing.T) {
	t.Parallel()

	raw := `{
		"metadata": {"savedAt": "2025-01-01T00:00:00.000Z", "activeNamespace": "dpia"},
		"taskState": {
			"dpia": {"currentRootTaskId": "0", "taskInstances": {"i": {"id": "i", "taskId": "0", "groupId": "g", "parentInstanceId": null, "childInstanceIds": []}}},
			"prescan": {"currentRootTaskId": "0", "completedRootTaskIds": [], "taskInstances": {}}
		},
		"answers": {"dpia": {}, "prescan": {}}
	}`
	snap, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, []string{"dpia"}, snap.Namespaces())
	assert.Equal(t, []string{}, snap.TaskState["dpia"].CompletedRootTaskIDs)
}

func TestApply_MissingTaskStateLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	ns := newNamespace(t, "")
	ns.answers.Set(ns.instances.InstancesOf("0")[0].ID, answer.Text("keep"))
	instancesBefore := ns.instances.Snapshot()
	answersBefore := ns.answers.All()

	snap, err := Decode([]byte(`{"metadata":{"savedAt":"x"},"answers":{"dpia":{}}}`))
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeFormat, verr.Code)
	assert.Empty(t, snap.TaskState)

	assert.Equal(t, instancesBefore, ns.instances.Snapshot())
	assert.Equal(t, answersBefore, ns.answers.All())
}

func TestApply_RejectsInvalidTreeAtomically(t *testing.T) {
	t.Parallel()

	dpia := newNamespace(t, "d")
	prescan := newNamespace(t, "p")
	before := dpia.instances.Snapshot()

	good := Serialize("dpia", newNamespace(t, "x").instances, answer.NewStore(nil), Navigation{}, savedAt())
	bad := Serialize("prescan", newNamespace(t, "y").instances, answer.NewStore(nil), Navigation{}, savedAt())
	state := bad.TaskState["prescan"]
	for id, inst := range state.TaskInstances {
		inst.TaskID = "unknown"
		state.TaskInstances[id] = inst
		break
	}
	good.TaskState["prescan"] = state
	good.Answers["prescan"] = map[string]answer.Answer{}

	_, err := Apply(good, map[string]Target{"dpia": dpia.target(), "prescan": prescan.target()})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeInvalidTree, verr.Code)
	assert.ErrorIs(t, err, instance.ErrInvalidTree)
	assert.Equal(t, before, dpia.instances.Snapshot(), "dpia was valid but is not applied either")
}

func TestApply_NoTargets(t *testing.T) {
	t.Parallel()

	src := newNamespace(t, "")
	snap := Serialize("iama", src.instances, src.answers, Navigation{}, savedAt())
	_, err := Apply(snap, map[string]Target{"dpia": newNamespace(t, "d").target()})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeNoData, verr.Code)
}

func TestEnvelope_SealOpen(t *testing.T) {
	t.Parallel()

	src := newNamespace(t, "")
	src.answers.Set(src.instances.InstancesOf("0")[0].ID, answer.Text("<b>é</b>"))
	snap := Serialize("dpia", src.instances, src.answers, Navigation{CurrentRootTaskID: "0"}, savedAt())

	env, err := Seal(snap)
	require.NoError(t, err)
	assert.Len(t, env.Checksum, 64)
	assert.Contains(t, env.Data, "<b>é</b>", "canonical form does not escape html")

	again, err := Seal(snap)
	require.NoError(t, err)
	assert.Equal(t, env, again, "sealing is deterministic")

	opened, err := Open(env)
	require.NoError(t, err)
	assert.Equal(t, snap.TaskState, opened.TaskState)

	unchecked, err := Open(Envelope{Data: env.Data})
	require.NoError(t, err, "a missing checksum is accepted")
	assert.Equal(t, []string{"dpia"}, unchecked.Namespaces())
}

func TestEnvelope_Rejects(t *testing.T) {
	t.Parallel()

	src := newNamespace(t, "")
	env, err := Seal(Serialize("dpia", src.instances, src.answers, Navigation{}, savedAt()))
	require.NoError(t, err)

	tampered := env
	tampered.Data = tampered.Data[:len(tampered.Data)-1] + " }"

	tests := []struct {
		name string
		env  Envelope
		code Code
	}{
		{"no data", Envelope{}, CodeNotEmbedded},
		{"checksum mismatch", tampered, CodeTampered},
		{"malformed data", Envelope{Data: "{nope", Checksum: Checksum("{nope")}, CodeMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.env)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.code, verr.Code)
		})
	}
}

func TestReadEnvelope(t *testing.T) {
	t.Parallel()

	env, err := ReadEnvelope([]byte(`{"DPIAData":"{}","DPIAChecksum":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, Envelope{Data: "{}", Checksum: "abc"}, env)

	_, err = ReadEnvelope([]byte(`{`))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestFilename(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 4, 5, 6, 7, 800, time.UTC)
	assert.Equal(t, "DPIA_2025-03-04_05-06-07.json", Filename("json", at))
	assert.Equal(t, "DPIA_2025-03-04_05-06-07.pdf", Filename(".pdf", at))
}
