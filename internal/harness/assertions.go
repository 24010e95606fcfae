package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/provtrace/internal/prov"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Document *prov.Document
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if e.Document != nil {
		fmt.Fprintf(&buf, "\nActivities:\n")
		for _, a := range e.Document.Activities {
			fmt.Fprintf(&buf, "  %s\n", a.ID)
		}
		fmt.Fprintf(&buf, "Entities:\n")
		for _, en := range e.Document.Entities {
			fmt.Fprintf(&buf, "  %s\n", en.ID)
		}
	}

	return buf.String()
}

// evaluateAssertion dispatches on the assertion type.
func evaluateAssertion(result *Result, a Assertion) error {
	doc := result.Document
	switch a.Type {
	case AssertActivity:
		return assertActivity(doc, a)
	case AssertEntityCount:
		return assertEntityCount(doc, a)
	case AssertUsed:
		return assertAccess(doc, a, relationsOf(doc.Used))
	case AssertGenerated:
		return assertAccess(doc, a, generatedOf(doc.Generated))
	case AssertInformed:
		return assertInformed(doc, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// assertActivity checks that some activity runs a.Path, with a.Label if set.
func assertActivity(doc *prov.Document, a Assertion) error {
	var labels []string
	for _, act := range doc.Activities {
		if act.Path != a.Path {
			continue
		}
		if a.Label == "" || act.Label == a.Label {
			return nil
		}
		labels = append(labels, act.Label)
	}

	actual := "no activity with that path"
	if len(labels) > 0 {
		actual = fmt.Sprintf("labels %q", labels)
	}
	return &AssertionError{
		Type:     AssertActivity,
		Expected: fmt.Sprintf("activity %s label %q", a.Path, a.Label),
		Actual:   actual,
		Document: doc,
	}
}

// assertEntityCount checks the number of entities recorded for a.Path.
func assertEntityCount(doc *prov.Document, a Assertion) error {
	got := len(doc.EntitiesForPath(a.Path))
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertEntityCount,
		Expected: fmt.Sprintf("%d entities for %s", a.Count, a.Path),
		Actual:   fmt.Sprintf("%d entities", got),
		Document: doc,
	}
}

// access is a used or wasGeneratedBy edge reduced to its ends.
type access struct {
	activity string
	entity   string
}

func relationsOf(used []prov.Used) []access {
	out := make([]access, len(used))
	for i, u := range used {
		out[i] = access{activity: u.Activity, entity: u.Entity}
	}
	return out
}

func generatedOf(gen []prov.WasGeneratedBy) []access {
	out := make([]access, len(gen))
	for i, g := range gen {
		out[i] = access{activity: g.Activity, entity: g.Entity}
	}
	return out
}

// assertAccess checks for an edge from an activity running a.Activity to
// an entity recording a.Entity.
func assertAccess(doc *prov.Document, a Assertion, edges []access) error {
	activityPath := make(map[string]string, len(doc.Activities))
	for _, act := range doc.Activities {
		activityPath[act.ID] = act.Path
	}
	entityPath := make(map[string]string, len(doc.Entities))
	for _, en := range doc.Entities {
		entityPath[en.ID] = en.Path
	}

	for _, e := range edges {
		if activityPath[e.activity] == a.Activity && entityPath[e.entity] == a.Entity {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s %s %s", a.Activity, a.Type, a.Entity),
		Actual:   fmt.Sprintf("not found among %d relations", len(edges)),
		Document: doc,
	}
}

// assertInformed checks for a wasInformedBy edge between the activities
// running a.Informant and a.Informed.
func assertInformed(doc *prov.Document, a Assertion) error {
	activityPath := make(map[string]string, len(doc.Activities))
	for _, act := range doc.Activities {
		activityPath[act.ID] = act.Path
	}

	for _, i := range doc.Informed {
		if activityPath[i.Informant] == a.Informant && activityPath[i.Informed] == a.Informed {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertInformed,
		Expected: fmt.Sprintf("%s informed %s", a.Informant, a.Informed),
		Actual:   fmt.Sprintf("not found among %d relations", len(doc.Informed)),
		Document: doc,
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
