package config

import (
	"fmt"
	"sort"

	"github.com/masoud-msk/dev-stack/internal/performance/metrics"
)

// toThresholdSets parses the thresholds section, sorted by selector.
func toThresholdSets(in map[string][]ThresholdConfig, errs *ValidationErrors) []metrics.ThresholdSet {
	selectors := make([]string, 0, len(in))
	for sel := range in {
		selectors = append(selectors, sel)
	}
	sort.Strings(selectors)

	var sets []metrics.ThresholdSet
	for _, sel := range selectors {
		field := "thresholds." + sel
		name, _, err := metrics.ParseSelector(sel)
		if err != nil {
			errs.Add(field, err.Error())
			continue
		}
		kind, builtin := metrics.BuiltinKinds[name]

		set := metrics.ThresholdSet{Selector: sel}
		for i, entry := range in[sel] {
			th, err := metrics.ParseThreshold(entry.Threshold)
			if err != nil {
				errs.Add(fmt.Sprintf("%s[%d]", field, i), err.Error())
				continue
			}
			if builtin && !th.Supports(kind) {
				errs.Addf(fmt.Sprintf("%s[%d]", field, i), "method %q is not supported on %s metric %s", th.Method, kind, name)
				continue
			}
			th.AbortOnFail = entry.AbortOnFail
			th.DelayAbortEval = entry.DelayAbortEval.Std(0)
			if th.DelayAbortEval > 0 && !th.AbortOnFail {
				errs.Add(fmt.Sprintf("%s[%d].delayAbortEval", field, i), "requires abortOnFail")
				continue
			}
			set.Thresholds = append(set.Thresholds, th)
		}
		if len(set.Thresholds) > 0 {
			sets = append(sets, set)
		}
	}
	return sets
}
