package main

const (
	MsgNoFile = "No file was uploaded. Send the image in the 'file' field of a multipart form, as a raw request body, or as base64 in a JSON 'image' field."

	MsgInvalidImage = "The uploaded file could not be read as an image. Supported formats are JPEG, PNG, GIF, BMP, TIFF and WebP."

	MsgModelLoading = "The detection model is still loading. Please retry in a few seconds."

	MsgModelFailed = "The detection model failed to load. The service cannot run detections until it is restarted."

	MsgModelOutput = "The detection model returned output that does not match the configured tree defect classes."

	MsgProcessing = "Object detection failed while processing the image."
)
