package config

// Default returns a Config populated with default values. Paths keep their
// `~` prefix until normalize expands them.
func Default() Config {
	return Config{
		Whisper: Whisper{
			ModelPath:           "~/.local/share/murmur/models/ggml-base.en.bin",
			Binary:              "whisper-cli",
			ModelTimeoutSeconds: 300,
			Language:            "en",
			VADThreshold:        0.1,
		},
		Audio: Audio{
			Device:      "default",
			InputFormat: "pulse",
			SampleRate:  16000,
			Channels:    1,
			BufferSize:  1024,
		},
		IPC: IPC{
			SocketPath:         "~/.local/share/murmur/murmur.sock",
			DialTimeoutSeconds: 2,
		},
		Daemon: Daemon{
			RuntimeDir:                 "~/.local/share/murmur",
			UnloadCheckIntervalSeconds: 30,
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
	}
}
