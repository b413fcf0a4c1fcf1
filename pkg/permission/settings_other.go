//go:build !darwin

package permission

// No well-known privacy-settings deep link off macOS.
const settingsAction = ""
