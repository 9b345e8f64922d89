package message

// Command identifies an operation a node daemon can execute.
type Command string

// The fixed command allow-list understood by the node fleet.
const (
	CommandTaskCreate     Command = "task_create"
	CommandTaskDelete     Command = "task_delete"
	CommandTaskList       Command = "task_list"
	CommandTaskStatus     Command = "task_status"
	CommandConfigReload   Command = "config_reload"
	CommandDaemonStatus   Command = "daemon_status"
	CommandDaemonStats    Command = "daemon_stats"
	CommandDaemonShutdown Command = "daemon_shutdown"
)

var validCommands = map[Command]struct{}{
	CommandTaskCreate:     {},
	CommandTaskDelete:     {},
	CommandTaskList:       {},
	CommandTaskStatus:     {},
	CommandConfigReload:   {},
	CommandDaemonStatus:   {},
	CommandDaemonStats:    {},
	CommandDaemonShutdown: {},
}

// IsValid reports whether the command is in the fixed allow-list.
func (c Command) IsValid() bool {
	_, ok := validCommands[c]
	return ok
}

// Commands returns the allow-list for diagnostics and error messages.
func Commands() []Command {
	out := make([]Command, 0, len(validCommands))
	for c := range validCommands {
		out = append(out, c)
	}
	return out
}

// TargetWildcard addresses every node group; a wildcard send fans out one
// envelope per concrete group topic and never awaits a single response.
const TargetWildcard = "*"
