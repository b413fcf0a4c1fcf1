package permission

// Deep link to the Microphone pane of the macOS privacy settings.
const settingsAction = "x-apple.systempreferences:com.apple.preference.security?Privacy_Microphone"
