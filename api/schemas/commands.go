package schemas

import (
	"time"
)

// -- Command Schemas --

// CommandType names a registered command handler.
type CommandType string

const (
	CommandNavigate          CommandType = "navigate"
	CommandNavigateMultiStep CommandType = "navigate_multi_step"
	CommandClick             CommandType = "click"
	CommandTypeText          CommandType = "type_text"
	CommandFillForm          CommandType = "fill_form"
	CommandAutoFillForm      CommandType = "auto_fill_form"
	CommandFillSelect        CommandType = "fill_select"
	CommandFillCheckbox      CommandType = "fill_checkbox"
	CommandFillRadio         CommandType = "fill_radio"
	CommandFillDate          CommandType = "fill_date"
	CommandSubmitForm        CommandType = "submit_form"
	CommandHandleFileUpload  CommandType = "handle_file_upload"
	CommandGetContent        CommandType = "get_content"
	CommandGetPageState      CommandType = "get_page_state"
	CommandDetectForms       CommandType = "detect_forms"
	CommandWaitForElement    CommandType = "wait_for_element"
	CommandScreenshot        CommandType = "screenshot"
	CommandExecuteScript     CommandType = "execute_script"
	CommandGetCookies        CommandType = "get_cookies"
	CommandListTabs          CommandType = "list_tabs"
	CommandStartNetwork      CommandType = "start_network_monitoring"
	CommandStopNetwork       CommandType = "stop_network_monitoring"
	CommandGetNetworkLogs    CommandType = "get_network_logs"
	CommandGetTaskQueue      CommandType = "get_task_queue"
	CommandClearTaskQueue    CommandType = "clear_task_queue"
)

// Command is a single requested action received from the controller.
type Command struct {
	ID     string                 `json:"command_id"`
	Type   CommandType            `json:"type"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Response is the single reply produced for an accepted (or rejected) Command.
type Response struct {
	CommandID string      `json:"command_id"`
	Success   bool        `json:"success"`
	Result    interface{} `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	// Kind names the error category when Success is false.
	Kind      string `json:"kind,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewSuccessResponse builds a successful response stamped with the current time.
func NewSuccessResponse(id string, result interface{}) Response {
	return Response{
		CommandID: id,
		Success:   true,
		Result:    result,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewErrorResponse builds a failed response stamped with the current time.
func NewErrorResponse(id, kind, message string) Response {
	return Response{
		CommandID: id,
		Success:   false,
		Error:     message,
		Kind:      kind,
		Timestamp: time.Now().UnixMilli(),
	}
}

// -- Control Frames --

// FrameType identifies non-command frames on the wire.
type FrameType string

const (
	FrameHeartbeat FrameType = "heartbeat"
	// FrameConnected is the greeting some controllers send after accepting the socket.
	FrameConnected FrameType = "connected"
)

// HeartbeatFrame is sent periodically while the session is connected. No reply is expected.
type HeartbeatFrame struct {
	Type      FrameType `json:"type"`
	Timestamp int64     `json:"timestamp"`
}
