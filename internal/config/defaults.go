package config

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			HTTPPort: 3100,
			Bind:     "127.0.0.1",
		},
		Receiver: ReceiverConfig{
			Enabled:  true,
			GRPCPort: 4317,
			HTTPPort: 4318,
			Bind:     "127.0.0.1",
		},
		Broadcast: BroadcastConfig{
			HeartbeatIntervalMS: 30000,
			MetricsIntervalMS:   1000,
			SubscriberBuffer:    256,
			HistorySize:         1000,
		},
		Client: ClientConfig{
			BaseDelayMS:          1000,
			MaxReconnectAttempts: 5,
			AutoReconnect:        true,
		},
		Session: SessionConfig{
			ActivityWindowSeconds: 300,
		},
		BurnRate: BurnRateConfig{
			SampleIntervalSeconds: 5,
			GreenBelow:            0.50,
			YellowBelow:           2.00,
		},
		Telemetry: TelemetryConfig{
			Endpoint:              "localhost:4317",
			Insecure:              true,
			ExportIntervalSeconds: 10,
		},
	}
}
