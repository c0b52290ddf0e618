package mocks

//go:generate mockgen -destination=stt.go -package=mocks github.com/mrsingh-rishi/pitch-client/stt Recognizer,Capture
//go:generate mockgen -destination=playback.go -package=mocks github.com/mrsingh-rishi/pitch-client/playback Player
