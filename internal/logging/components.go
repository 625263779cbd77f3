package logging

// Component names attached to structured log lines.
const (
	ComponentStartup     = "startup"
	ComponentShutdown    = "shutdown"
	ComponentDatabase    = "database"
	ComponentAuth        = "auth"
	ComponentPoller      = "poller"
	ComponentHeartbeat   = "heartbeat"
	ComponentWizard      = "wizard"
	ComponentController  = "controller"
	ComponentDiagnostics = "diagnostics"
	ComponentAgent       = "agent"
	ComponentSSE         = "sse"
	ComponentTemplates   = "templates"
	ComponentCLI         = "cli"
)
