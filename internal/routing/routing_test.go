package routing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	gateway "github.com/fitstack/llmgate/internal"
	"github.com/fitstack/llmgate/internal/circuitbreaker"
)

type allowAllBut map[string]bool

func (a allowAllBut) CanRoute(modelID string) bool { return !a[modelID] }

func model(id string, prio gateway.Priority, cost string) gateway.ModelConfig {
	return gateway.ModelConfig{
		ModelID:    id,
		Provider:   "openai",
		Priority:   prio,
		CostPerTok: decimal.RequireFromString(cost),
		Active:     true,
	}
}

func TestSelect_CheapestWins(t *testing.T) {
	t.Parallel()

	candidates := []gateway.ModelConfig{
		model("gpt-4o", gateway.PriorityMedium, "0.00003"),
		model("gpt-4o-mini", gateway.PriorityMedium, "0.0000006"),
		model("sonar", gateway.PriorityMedium, "0.000001"),
	}
	res, err := Select(Context{TaskType: "chat"}, candidates, nil, allowAllBut{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Model.ModelID != "gpt-4o-mini" {
		t.Fatalf("selected %s, want gpt-4o-mini", res.Model.ModelID)
	}
}

func TestSelect_FiltersInactiveAndOpenCircuits(t *testing.T) {
	t.Parallel()

	inactive := model("gpt-4o", gateway.PriorityHigh, "0.00003")
	inactive.Active = false
	candidates := []gateway.ModelConfig{
		inactive,
		model("gemini-flash", gateway.PriorityMedium, "0.0000001"),
		model("sonar", gateway.PriorityMedium, "0.000001"),
	}

	res, err := Select(Context{}, candidates, nil, allowAllBut{"gemini-flash": true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Model.ModelID != "sonar" {
		t.Fatalf("selected %s, want sonar", res.Model.ModelID)
	}

	reasons := map[string]string{}
	for _, r := range res.Rejected {
		reasons[r.ModelID] = r.Reason
	}
	if reasons["gpt-4o"] != ReasonInactive {
		t.Errorf("gpt-4o reason = %q, want INACTIVE", reasons["gpt-4o"])
	}
	if reasons["gemini-flash"] != ReasonCircuitOpen {
		t.Errorf("gemini-flash reason = %q, want CIRCUIT_OPEN", reasons["gemini-flash"])
	}
}

func TestSelect_FiltersUnresolvableSecrets(t *testing.T) {
	t.Parallel()

	candidates := []gateway.ModelConfig{
		model("gpt-4o-mini", gateway.PriorityMedium, "0.0000006"),
		model("sonar", gateway.PriorityMedium, "0.000001"),
	}
	creds := func(m gateway.ModelConfig) bool { return m.ModelID != "gpt-4o-mini" }

	res, err := Select(Context{}, candidates, nil, allowAllBut{}, creds)
	if err != nil {
		t.Fatal(err)
	}
	if res.Model.ModelID != "sonar" {
		t.Fatalf("selected %s, want sonar", res.Model.ModelID)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Reason != ReasonSecretUnresolvable {
		t.Fatalf("rejected = %+v, want gpt-4o-mini SECRET_UNRESOLVABLE", res.Rejected)
	}
}

func TestSelect_PassedOverModelKeepsItsProbe(t *testing.T) {
	t.Parallel()

	reg := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: 1,
		Cooldown:         10 * time.Millisecond,
		CooldownMax:      10 * time.Millisecond,
	})
	reg.RecordFailure("gpt-4o")

	time.Sleep(20 * time.Millisecond)

	// gpt-4o is past its cooldown but loses the sort to the cheaper model.
	// Repeated selections must leave its probe slot alone so the breaker can
	// still recover when the model is eventually invoked.
	candidates := []gateway.ModelConfig{
		model("gpt-4o", gateway.PriorityMedium, "0.00003"),
		model("gpt-4o-mini", gateway.PriorityMedium, "0.0000006"),
	}
	for range 5 {
		res, err := Select(Context{}, candidates, nil, reg, nil)
		if err != nil {
			t.Fatal(err)
		}
		if res.Model.ModelID != "gpt-4o-mini" {
			t.Fatalf("selected %s, want gpt-4o-mini", res.Model.ModelID)
		}
	}

	if got := reg.State("gpt-4o"); got != circuitbreaker.StateOpen {
		t.Fatalf("state = %v after selections, want open (untouched)", got)
	}
	if !reg.Allow("gpt-4o") {
		t.Fatal("probe no longer available after being passed over")
	}
}

func TestSelect_EmptySetFails(t *testing.T) {
	t.Parallel()

	_, err := Select(Context{}, nil, nil, allowAllBut{}, nil)
	if err == nil {
		t.Fatal("expected error on empty candidate set")
	}
	var ge *gateway.Error
	if !errors.As(err, &ge) || ge.Kind != gateway.KindNoModel {
		t.Fatalf("err = %v, want NO_MODEL", err)
	}
}

func TestSelect_PinRuleRestricts(t *testing.T) {
	t.Parallel()

	candidates := []gateway.ModelConfig{
		model("gpt-4o-mini", gateway.PriorityMedium, "0.0000006"),
		model("gemini-pro", gateway.PriorityMedium, "0.00001"),
	}
	rules := []gateway.RoutingRule{
		{Name: "pin-analysis", TaskType: "analysis", Models: []string{"gemini-pro"}, Pin: true},
	}

	res, err := Select(Context{TaskType: "analysis"}, candidates, rules, allowAllBut{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Model.ModelID != "gemini-pro" {
		t.Fatalf("selected %s, want pinned gemini-pro", res.Model.ModelID)
	}

	// The rule must not apply to other task types.
	res, err = Select(Context{TaskType: "chat"}, candidates, rules, allowAllBut{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Model.ModelID != "gpt-4o-mini" {
		t.Fatalf("selected %s, want gpt-4o-mini", res.Model.ModelID)
	}
}

func TestSelect_ReorderRuleBeatsCost(t *testing.T) {
	t.Parallel()

	candidates := []gateway.ModelConfig{
		model("gpt-4o-mini", gateway.PriorityMedium, "0.0000006"),
		model("gemini-pro", gateway.PriorityMedium, "0.00001"),
	}
	rules := []gateway.RoutingRule{
		{Name: "prefer-gemini", Models: []string{"gemini-pro"}},
	}

	res, err := Select(Context{}, candidates, rules, allowAllBut{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Model.ModelID != "gemini-pro" {
		t.Fatalf("selected %s, want rule-preferred gemini-pro", res.Model.ModelID)
	}
}

func TestSelect_LaterRuleOverrides(t *testing.T) {
	t.Parallel()

	candidates := []gateway.ModelConfig{
		model("a", gateway.PriorityMedium, "0.00001"),
		model("b", gateway.PriorityMedium, "0.00001"),
	}
	rules := []gateway.RoutingRule{
		{Name: "first", Models: []string{"a"}},
		{Name: "second", Models: []string{"b"}},
	}

	res, err := Select(Context{}, candidates, rules, allowAllBut{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Model.ModelID != "b" {
		t.Fatalf("selected %s, want b (later rule wins)", res.Model.ModelID)
	}
}

func TestSelect_PinToUnavailableModelFails(t *testing.T) {
	t.Parallel()

	candidates := []gateway.ModelConfig{
		model("gpt-4o-mini", gateway.PriorityMedium, "0.0000006"),
	}
	rules := []gateway.RoutingRule{
		{Name: "pin-missing", Models: []string{"gone"}, Pin: true},
	}

	_, err := Select(Context{}, candidates, rules, allowAllBut{}, nil)
	if gateway.KindOf(err) != gateway.KindNoModel {
		t.Fatalf("err = %v, want NO_MODEL", err)
	}
}

func TestSelect_PriorityRequestPrefersHighModel(t *testing.T) {
	t.Parallel()

	candidates := []gateway.ModelConfig{
		model("cheap-low", gateway.PriorityLow, "0.0000001"),
		model("gpt-4o", gateway.PriorityHigh, "0.00003"),
	}

	res, err := Select(Context{Priority: "high"}, candidates, nil, allowAllBut{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Model.ModelID != "gpt-4o" {
		t.Fatalf("selected %s, want high-priority gpt-4o", res.Model.ModelID)
	}

	// Without a request priority the cheap model wins on cost.
	res, err = Select(Context{}, candidates, nil, allowAllBut{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Model.ModelID != "cheap-low" {
		t.Fatalf("selected %s, want cheap-low", res.Model.ModelID)
	}
}

func TestSelect_TieBreakByPriorityThenID(t *testing.T) {
	t.Parallel()

	candidates := []gateway.ModelConfig{
		model("zeta", gateway.PriorityHigh, "0.00001"),
		model("alpha", gateway.PriorityMedium, "0.00001"),
	}
	res, err := Select(Context{}, candidates, nil, allowAllBut{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Model.ModelID != "zeta" {
		t.Fatalf("selected %s, want zeta (higher declared priority)", res.Model.ModelID)
	}

	candidates[0].Priority = gateway.PriorityMedium
	res, err = Select(Context{}, candidates, nil, allowAllBut{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Model.ModelID != "alpha" {
		t.Fatalf("selected %s, want alpha (lexical tie-break)", res.Model.ModelID)
	}
}
