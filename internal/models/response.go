package models

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	State   DeviceState `json:"state,omitempty"`
}

func SuccessResponse(data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
	}
}

func ErrorResponse(err string) APIResponse {
	return APIResponse{
		Success: false,
		Error:   err,
	}
}

// StateErrorResponse carries the device state alongside a rejected request
func StateErrorResponse(err string, state DeviceState) APIResponse {
	return APIResponse{
		Success: false,
		Error:   err,
		State:   state,
	}
}
