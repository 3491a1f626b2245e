package main

import "github.com/bryanchriswhite/EmotionStreamer/cmd/emotionstreamer/commands"

func main() {
	commands.Execute()
}
