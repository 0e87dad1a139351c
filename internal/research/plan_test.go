package research

import (
	"strings"
	"testing"
)

func TestParsePlanFromFencedJSON(t *testing.T) {
	raw := "Here is the plan:\n```json\n{\"goal\":\"map the field\",\"question_type\":\"survey\",\"assumptions\":[\"recent work matters most\"],\"plan\":[{\"step\":1,\"action\":\"Collect recent papers\",\"expected_output\":\"paper list\",\"deliverable_format\":\"list\",\"depth\":\"high\",\"acceptance_criteria\":[\"at least five papers\"],\"requires_search\":true},{\"step\":2,\"action\":\"Synthesize themes\",\"expected_output\":\"themes\",\"requires_search\":false}]}\n```\nGood luck!"

	plan := ParsePlan(raw)
	if plan.Goal != "map the field" {
		t.Fatalf("goal = %q", plan.Goal)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(plan.Steps))
	}
	if plan.Steps[0].Depth != "high" || !plan.Steps[0].RequiresSearch {
		t.Errorf("step 1 not preserved: %+v", plan.Steps[0])
	}
	if plan.Steps[1].DeliverableFormat != "paragraph" {
		t.Errorf("missing deliverable_format not defaulted: %q", plan.Steps[1].DeliverableFormat)
	}
	if plan.Steps[1].Depth != "medium" {
		t.Errorf("missing depth not defaulted: %q", plan.Steps[1].Depth)
	}
	if plan.Steps[1].AcceptanceCriteria == nil {
		t.Errorf("acceptance criteria should be empty, not nil")
	}
}

func TestParsePlanNormalizesIndexes(t *testing.T) {
	raw := `{"plan":[{"action":"first"},{"action":"second"},{"action":"third"}]}`

	plan := ParsePlan(raw)
	for i, step := range plan.Steps {
		if step.Index != i+1 {
			t.Errorf("step %d index = %d", i, step.Index)
		}
	}
}

func TestParsePlanFallbacks(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"not json":     "I could not produce a plan, sorry.",
		"broken json":  `{"plan":[{"action":`,
		"no steps":     `{"goal":"something","plan":[]}`,
		"wrong shape":  `{"plan":"do research"}`,
		"only bracket": "}{",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			plan := ParsePlan(raw)
			if len(plan.Steps) != 1 {
				t.Fatalf("expected fallback single step, got %d", len(plan.Steps))
			}
			step := plan.Steps[0]
			if step.Action != fallbackAction {
				t.Errorf("action = %q", step.Action)
			}
			if !step.RequiresSearch {
				t.Errorf("fallback step must require search")
			}
			if step.Index != 1 {
				t.Errorf("index = %d", step.Index)
			}
		})
	}
}

func TestParsePlanBlankActionDefaulted(t *testing.T) {
	plan := ParsePlan(`{"plan":[{"step":1,"action":"   "}]}`)
	if plan.Steps[0].Action != fallbackAction {
		t.Fatalf("blank action not defaulted: %q", plan.Steps[0].Action)
	}
}

func TestExtractJSONObjectIgnoresSurroundingText(t *testing.T) {
	got := extractJSONObject(`prefix {"a":{"b":1}} suffix {"c":2}`)
	if got != `{"a":{"b":1}}` {
		t.Fatalf("got %q", got)
	}
	if extractJSONObject("no json here") != "" {
		t.Fatalf("expected empty for non-json input")
	}
}

func TestStripCodeFence(t *testing.T) {
	if got := stripCodeFence("```json\n{\"a\":1}\n```"); got != `{"a":1}` {
		t.Fatalf("fenced json: %q", got)
	}
	if got := stripCodeFence("{\"a\":1}"); got != `{"a":1}` {
		t.Fatalf("unfenced: %q", got)
	}
	if got := stripCodeFence("```\n{\"a\":1}\n```"); !strings.Contains(got, `"a"`) {
		t.Fatalf("fence without tag: %q", got)
	}
}
