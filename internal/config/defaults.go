package config

const (
	defaultStagingDir         = "~/.local/share/avsync/staging"
	defaultWorkDir            = "~/.local/share/avsync/work"
	defaultOutputDir          = "~/.local/share/avsync/output"
	defaultLogDir             = "~/.local/share/avsync/logs"
	defaultAPIBind            = "127.0.0.1:8710"
	defaultPythonBinary       = "python3"
	defaultPipelineModule     = "syncnet_python.run_pipeline"
	defaultModelModule        = "syncnet_python.run_syncnet"
	defaultMaxIterations      = 10
	defaultOffsetToleranceMs  = 10
	defaultPerStepTimeout     = 600
	defaultPollInterval       = 2
	defaultErrorRetryInterval = 5
	defaultMaxConcurrent      = 2
	defaultSubscriberBuffer   = 64
	defaultNtfyRequestTimeout = 10
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			WorkDir:    defaultWorkDir,
			OutputDir:  defaultOutputDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Sync: Sync{
			PythonBinary:      defaultPythonBinary,
			PipelineModule:    defaultPipelineModule,
			ModelModule:       defaultModelModule,
			MaxIterations:     defaultMaxIterations,
			OffsetToleranceMs: defaultOffsetToleranceMs,
			PerStepTimeout:    defaultPerStepTimeout,
		},
		Workflow: Workflow{
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			MaxConcurrent:      defaultMaxConcurrent,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
		},
		Events: Events{
			SubscriberBuffer: defaultSubscriberBuffer,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
