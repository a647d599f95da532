package notify

// Template ids registered with the transactional provider. These are
// stable per environment; overriding per stage happens through flags.
const (
	TemplateApplicationResult = "t0b2c3d4-result"
	TemplateAgreementReminder = "t1f4a9e2-agreement-reminder"
	TemplateServicesSuspended = "t2c8d1f7-services-suspended"
	TemplateFrameworkLive     = "t3a6e5b0-framework-live"
	TemplateClarificationQA   = "t4d9b2c8-clarification-digest"
)
