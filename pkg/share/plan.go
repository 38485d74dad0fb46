package share

// Step is one transport a client should attempt.
type Step struct {
	Transport string `json:"transport"`
	URL       string `json:"url,omitempty"`
	Deferred  bool   `json:"deferred,omitempty"`
}

// Plan is the ranked list of steps for a client that shares on its own,
// such as a browser talking to the HTTP API.
type Plan struct {
	Env     Env    `json:"env"`
	Message string `json:"message"`
	Steps   []Step `json:"steps"`
}

type linker interface {
	Link(payload Payload) string
}

// Plan lists the supported transports for env in rank order.
func (d *Dispatcher) Plan(env Env, payload Payload) Plan {
	plan := Plan{Env: env, Message: payload.Message()}
	for _, t := range d.transports {
		if !t.Supports(env) {
			continue
		}
		step := Step{Transport: t.Name()}
		if l, ok := t.(linker); ok {
			step.URL = l.Link(payload)
		}
		if _, ok := t.(IOSScheme); ok {
			step.Deferred = true
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan
}
