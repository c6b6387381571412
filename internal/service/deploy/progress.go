package deploy

import "fmt"

// Progress messages shown during deploy and undeploy cycles.
const (
	msgChecking     = "Checking for existing sessions..."
	msgStopping     = "Stopping previous session..."
	msgInitializing = "Initializing system..."
	msgInitialized  = "System initialized..."
	msgConnecting   = "Establishing connection..."
	msgFinalizing   = "Finalizing activation..."
	msgActivated    = "Galaxy Kick Lock 2.0 activated!"
	msgLocalTest    = "Local test mode enabled"

	msgDeactivating   = "Deactivating system..."
	msgFindingRun     = "Finding active pipeline..."
	msgStoppingSystem = "Stopping system..."
	msgNoSession      = "No active session found..."
	msgStopped        = "System stopped..."
	msgDeactivated    = "System deactivated successfully!"
)

// pollPercentage maps a poll attempt into the [30,90] band.
func pollPercentage(attempt, maxAttempts int) int {
	if maxAttempts <= 0 {
		return 90
	}
	span := (attempt*60*2 + maxAttempts) / (2 * maxAttempts)
	if span > 60 {
		span = 60
	}
	if span < 0 {
		span = 0
	}
	return 30 + span
}

func pollMessage(status string) string {
	return fmt.Sprintf("Activating system... (%s)", status)
}

// closedMessage is the notification sent when a live pipeline stops on its own.
func closedMessage(reason string) string {
	return fmt.Sprintf("Deployment closed unexpectedly. %s. Please activate deployment again.", reason)
}
