package domain

// Clone returns a deep copy. Transitions mutate the copy and publish it as the
// next snapshot, so readers holding the previous pointer never observe a
// partial update.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Sprints = cloneSprints(s.Sprints)
	out.Metrics.Certifications = cloneSlice(s.Metrics.Certifications)
	out.CustomMetrics = cloneSlice(s.CustomMetrics)
	out.Logs = cloneSlice(s.Logs)
	out.ChatHistory = cloneSlice(s.ChatHistory)
	out.Rules = cloneSlice(s.Rules)
	return &out
}

func cloneSprints(in []Sprint) []Sprint {
	if in == nil {
		return nil
	}
	out := make([]Sprint, len(in))
	for i, sp := range in {
		out[i] = sp
		if sp.Weeks != nil {
			out[i].Weeks = make([]Week, len(sp.Weeks))
			for j, w := range sp.Weeks {
				out[i].Weeks[j] = w
				if w.Tasks != nil {
					out[i].Weeks[j].Tasks = make([]Task, len(w.Tasks))
					for k, t := range w.Tasks {
						out[i].Weeks[j].Tasks[k] = t.Clone()
					}
				}
			}
		}
	}
	return out
}

// Clone copies the task including its sub-task list.
func (t Task) Clone() Task {
	t.SubTasks = cloneSlice(t.SubTasks)
	return t
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
