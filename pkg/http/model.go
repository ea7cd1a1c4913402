package http

// APIResponse represents standard API response.
type APIResponse struct {
	Status  int         `json:"status" example:"200"`
	Message string      `json:"message" example:"OK"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationError represents validation error detail.
type ValidationError struct {
	Code    string                 `json:"code,omitempty" example:"ERR_REQUIRED"`
	Field   string                 `json:"field,omitempty" example:"multiplier"`
	Message string                 `json:"message,omitempty" example:"multiplier is required"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// PageDataResponse represents a paginated list response.
type PageDataResponse struct {
	Rows     interface{} `json:"rows"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Pages    int         `json:"pages"`
}
