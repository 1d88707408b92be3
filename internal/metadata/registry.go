package metadata

import "sync"

// Registry is the in-memory cache of admin configuration: form templates,
// workflow templates, and notification settings. Reloaded on startup and
// after admin mutations.
type Registry struct {
	mu            sync.RWMutex
	templates     map[string]*FormTemplate
	workflows     map[string]*WorkflowTemplate
	notifications map[string]*NotificationSetting // keyed by event_key
}

func NewRegistry() *Registry {
	return &Registry{
		templates:     make(map[string]*FormTemplate),
		workflows:     make(map[string]*WorkflowTemplate),
		notifications: make(map[string]*NotificationSetting),
	}
}

// GetTemplate returns the form template with the given id, or nil.
func (r *Registry) GetTemplate(id string) *FormTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.templates[id]
}

// AllTemplates returns all registered form templates.
func (r *Registry) AllTemplates() []*FormTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	templates := make([]*FormTemplate, 0, len(r.templates))
	for _, t := range r.templates {
		templates = append(templates, t)
	}
	return templates
}

// GetWorkflow returns the workflow template with the given id, or nil.
func (r *Registry) GetWorkflow(id string) *WorkflowTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.workflows[id]
}

// AllWorkflows returns all registered workflow templates.
func (r *Registry) AllWorkflows() []*WorkflowTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	workflows := make([]*WorkflowTemplate, 0, len(r.workflows))
	for _, w := range r.workflows {
		workflows = append(workflows, w)
	}
	return workflows
}

// GetNotificationSetting returns the active setting for an event key, or nil.
func (r *Registry) GetNotificationSetting(eventKey string) *NotificationSetting {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.notifications[eventKey]
	if s == nil || !s.Active {
		return nil
	}
	return s
}

// AllNotificationSettings returns all registered notification settings.
func (r *Registry) AllNotificationSettings() []*NotificationSetting {
	r.mu.RLock()
	defer r.mu.RUnlock()
	settings := make([]*NotificationSetting, 0, len(r.notifications))
	for _, s := range r.notifications {
		settings = append(settings, s)
	}
	return settings
}

// Load replaces the full registry contents. Called during startup and after
// admin mutations.
func (r *Registry) Load(templates []*FormTemplate, workflows []*WorkflowTemplate, settings []*NotificationSetting) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.templates = make(map[string]*FormTemplate, len(templates))
	for _, t := range templates {
		r.templates[t.ID] = t
	}

	r.workflows = make(map[string]*WorkflowTemplate, len(workflows))
	for _, w := range workflows {
		r.workflows[w.ID] = w
	}

	r.notifications = make(map[string]*NotificationSetting, len(settings))
	for _, s := range settings {
		r.notifications[s.EventKey] = s
	}
}
