package types

type RequestConnectAll struct {
	Numbers []string `json:"numbers" form:"numbers"`
}

type RequestConfigOTP struct {
	Code string `json:"code" form:"code"`
}

type RequestConfigUpdate struct {
	AutoViewStatus *bool   `json:"auto_view_status" form:"auto_view_status"`
	AutoLikeStatus *bool   `json:"auto_like_status" form:"auto_like_status"`
	AutoRecording  *bool   `json:"auto_recording" form:"auto_recording"`
	LikeEmoji      *string `json:"like_emoji" form:"like_emoji"`
	Prefix         *string `json:"prefix" form:"prefix"`
}

type RequestBroadcast struct {
	Message string `json:"message" form:"message"`
}
