package pipeline

import "sort"

// Expand multiplies a pipeline into run plans, one per matrix axis
// combination. A pipeline without a matrix yields a single plan with an
// empty axis assignment. Plans are ordered deterministically (axis
// names sorted, values in declaration order).
func (p *Pipeline) Expand() []RunPlan {
	if len(p.Axes) == 0 {
		return []RunPlan{{Pipeline: p, Axis: map[string]string{}}}
	}

	axisNames := make([]string, 0, len(p.Axes))
	for axis := range p.Axes {
		axisNames = append(axisNames, axis)
	}
	sort.Strings(axisNames)

	plans := []map[string]string{{}}
	for _, axis := range axisNames {
		var next []map[string]string
		for _, partial := range plans {
			for _, value := range p.Axes[axis] {
				combo := make(map[string]string, len(partial)+1)
				for k, v := range partial {
					combo[k] = v
				}
				combo[axis] = value
				next = append(next, combo)
			}
		}
		plans = next
	}

	out := make([]RunPlan, 0, len(plans))
	for _, axis := range plans {
		out = append(out, RunPlan{Pipeline: p, Axis: axis})
	}
	return out
}
