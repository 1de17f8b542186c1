package model

// Detection 单个检测结果，坐标为原图像素
type Detection struct {
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label,omitempty"`
}

// OverlayResult 一次分割叠加的结果
type OverlayResult struct {
	MD5         string      `json:"md5"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Detections  []Detection `json:"detections"`
	OverlayFile string      `json:"overlay_file"`
	MaskFile    string      `json:"mask_file"`
	BBoxFile    string      `json:"bbox_file"`
	Timestamp   int64       `json:"timestamp"`
}

// HistoryEntry 历史记录
type HistoryEntry struct {
	ID          int64  `json:"id"`
	MD5         string `json:"md5"`
	UploadName  string `json:"upload_name"`
	OverlayFile string `json:"overlay_file"`
	MaskFile    string `json:"mask_file"`
	BBoxFile    string `json:"bbox_file"`
	Detections  int    `json:"detections"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	CreatedAt   string `json:"created_at"`
}

// SegmentResponse POST /segment 成功响应
type SegmentResponse struct {
	Message        string `json:"message"`
	OverlayedImage string `json:"overlayed_image"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error string `json:"error"`
}

// QueryResponse 查询接口响应
type QueryResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
