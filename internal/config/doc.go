// Package config loads the servo CLI configuration file.
//
// The file holds named connection profiles:
//
//	default_profile: staging
//	profiles:
//	  staging:
//	    url: "https://servo.staging.example"
//	    app_id: "${SERVO_APP_ID}"
//	    app_key: "${SERVO_APP_KEY}"
//	    timeout: "5s"
//	    retries: 2
//	logging:
//	  level: "info"     # debug, info, warn, error
//	  format: "auto"    # auto, console, json
//
// Files with a .toml extension are decoded as TOML with the same keys.
// ${VAR_NAME} references are expanded from the environment before decoding.
package config
