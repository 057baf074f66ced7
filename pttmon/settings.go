package main

import (
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/goptt/pkg/sensor"
)

// showSettingsDialog displays a settings dialog with tabs for all configuration options.
func showSettingsDialog(state *appState) {
	tabs := container.NewAppTabs(
		createSerialTab(state),
		createEngineTab(state),
		createProfileTab(state),
		createMockTab(state),
	)

	content := container.NewBorder(nil, nil, nil, nil, tabs)
	content.Resize(fyne.NewSize(600, 500))

	d := dialog.NewCustom("Settings", "Close", content, state.window)
	d.Resize(fyne.NewSize(600, 500))
	d.Show()
}

func (s *appState) saveConfig() {
	if err := s.cfg.Save(s.configPath); err != nil {
		dialog.ShowError(fmt.Errorf("failed to save config: %w", err), s.window)
	}
}

// restartChain rebuilds the engine from the config and reconnects if a device
// was connected. Calibration points do not survive the rebuild.
func (s *appState) restartChain() {
	wasConnected := s.device != nil && s.device.IsConnected()
	if wasConnected {
		closeMeasurementChain(s.chain)
		s.chain = nil
		s.device = nil
	}

	s.newEngine()

	if wasConnected {
		handleConnect(s)
	}
}

// createSerialTab creates the Serial configuration tab.
func createSerialTab(state *appState) *container.TabItem {
	ports, err := sensor.Ports()
	portOptions := []string{}
	portMap := make(map[string]string)

	if err == nil {
		for _, port := range ports {
			displayName := port.Name
			if port.Description != "" && port.Description != port.Name {
				displayName = fmt.Sprintf("%s (%s)", port.Name, port.Description)
			}
			portOptions = append(portOptions, displayName)
			portMap[displayName] = port.Name
		}
	}

	currentPort := state.cfg.Serial.Port
	currentDisplay := currentPort
	found := false
	for _, opt := range portOptions {
		if portMap[opt] == currentPort {
			currentDisplay = opt
			found = true
			break
		}
	}
	if !found && currentPort != "" {
		portOptions = append(portOptions, currentPort)
		portMap[currentPort] = currentPort
	}

	portSelect := widget.NewSelect(portOptions, nil)
	if currentDisplay != "" {
		portSelect.SetSelected(currentDisplay)
	}

	baudEntry := widget.NewEntry()
	baudEntry.SetText(strconv.Itoa(state.cfg.Serial.BaudRate))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Serial Port", Widget: portSelect},
			{Text: "Baud Rate", Widget: baudEntry},
		},
		OnSubmit: func() {
			changed := false
			if portSelect.Selected != "" {
				selectedPort := portMap[portSelect.Selected]
				if selectedPort == "" {
					selectedPort = portSelect.Selected
				}
				changed = state.cfg.Serial.Port != selectedPort
				state.cfg.Serial.Port = selectedPort
			}
			if baud, err := strconv.Atoi(baudEntry.Text); err == nil && baud > 0 && baud != state.cfg.Serial.BaudRate {
				state.cfg.Serial.BaudRate = baud
				changed = true
			}
			state.saveConfig()

			if changed && !state.useMock {
				state.restartChain()
			}
		},
	}

	return container.NewTabItem("Serial", form)
}

// createEngineTab creates the engine configuration tab.
func createEngineTab(state *appState) *container.TabItem {
	e := &state.cfg.Engine

	ecgRateEntry := widget.NewEntry()
	ecgRateEntry.SetText(strconv.Itoa(e.ECGRate))

	ppgRateEntry := widget.NewEntry()
	ppgRateEntry.SetText(strconv.Itoa(e.PPGRate))

	adaptiveCheck := widget.NewCheck("", nil)
	adaptiveCheck.SetChecked(e.Adaptive)

	ecgThresholdEntry := widget.NewEntry()
	ecgThresholdEntry.SetText(fmt.Sprintf("%.3f", e.ECGThreshold))

	ppgSlopeEntry := widget.NewEntry()
	ppgSlopeEntry.SetText(fmt.Sprintf("%.3f", e.PPGSlope))

	pttMaxEntry := widget.NewEntry()
	pttMaxEntry.SetText(e.PTTMax.String())

	intervalEntry := widget.NewEntry()
	intervalEntry.SetText(state.cfg.Monitor.Interval.String())

	evictionSelect := widget.NewSelect([]string{"reject", "oldest"}, nil)
	evictionSelect.SetSelected(state.cfg.Calibration.Eviction)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "ECG Rate (Hz)", Widget: ecgRateEntry},
			{Text: "PPG Rate (Hz)", Widget: ppgRateEntry},
			{Text: "Adaptive Thresholds", Widget: adaptiveCheck},
			{Text: "ECG Threshold (mV)", Widget: ecgThresholdEntry},
			{Text: "PPG Slope (counts/ms)", Widget: ppgSlopeEntry},
			{Text: "Max PTT", Widget: pttMaxEntry},
			{Text: "Reading Interval", Widget: intervalEntry},
			{Text: "Calibration Eviction", Widget: evictionSelect},
		},
		OnSubmit: func() {
			if v, err := strconv.Atoi(ecgRateEntry.Text); err == nil && v > 0 {
				e.ECGRate = v
			}
			if v, err := strconv.Atoi(ppgRateEntry.Text); err == nil && v > 0 {
				e.PPGRate = v
			}
			e.Adaptive = adaptiveCheck.Checked
			if v, err := strconv.ParseFloat(ecgThresholdEntry.Text, 64); err == nil && v > 0 {
				e.ECGThreshold = v
			}
			if v, err := strconv.ParseFloat(ppgSlopeEntry.Text, 64); err == nil && v > 0 {
				e.PPGSlope = v
			}
			if v, err := time.ParseDuration(pttMaxEntry.Text); err == nil && v > e.PTTMin {
				e.PTTMax = v
			}
			if v, err := time.ParseDuration(intervalEntry.Text); err == nil && v > 0 {
				state.cfg.Monitor.Interval = v
			}
			if evictionSelect.Selected != "" {
				state.cfg.Calibration.Eviction = evictionSelect.Selected
			}
			if err := state.cfg.Validate(); err != nil {
				dialog.ShowError(err, state.window)
				return
			}
			state.saveConfig()
			state.restartChain()
		},
	}

	return container.NewTabItem("Engine", form)
}

// createProfileTab creates the user profile tab.
func createProfileTab(state *appState) *container.TabItem {
	p := state.currentEngine().Profile()

	ageEntry := widget.NewEntry()
	ageEntry.SetText(strconv.Itoa(p.Age))

	heightEntry := widget.NewEntry()
	heightEntry.SetText(fmt.Sprintf("%.0f", p.HeightCm))

	maleCheck := widget.NewCheck("", nil)
	maleCheck.SetChecked(p.IsMale)

	autoCheck := widget.NewCheck("", nil)
	autoCheck.SetChecked(state.currentEngine().Calibration().Auto)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Age (years)", Widget: ageEntry},
			{Text: "Height (cm)", Widget: heightEntry},
			{Text: "Male", Widget: maleCheck},
			{Text: "Auto-calibrate from profile", Widget: autoCheck},
		},
		OnSubmit: func() {
			age, err := strconv.Atoi(ageEntry.Text)
			if err != nil || age <= 0 {
				dialog.ShowError(fmt.Errorf("invalid age %q", ageEntry.Text), state.window)
				return
			}
			height, err := strconv.ParseFloat(heightEntry.Text, 32)
			if err != nil || height <= 0 {
				dialog.ShowError(fmt.Errorf("invalid height %q", heightEntry.Text), state.window)
				return
			}

			engine := state.currentEngine()
			engine.SetPersonalParameters(age, float32(height), maleCheck.Checked)
			if autoCheck.Checked && !engine.Calibration().Auto {
				engine.PerformAutoCalibration()
			}

			state.cfg.Profile.Age = age
			state.cfg.Profile.HeightCm = height
			state.cfg.Profile.IsMale = maleCheck.Checked
			state.saveConfig()
		},
	}

	return container.NewTabItem("Profile", form)
}

// createMockTab creates the Mock device configuration tab.
func createMockTab(state *appState) *container.TabItem {
	m := &state.cfg.Mock

	heartRateEntry := widget.NewEntry()
	heartRateEntry.SetText(fmt.Sprintf("%.0f", m.HeartRate))

	pttEntry := widget.NewEntry()
	pttEntry.SetText(m.PTT.String())

	noiseLevelEntry := widget.NewEntry()
	noiseLevelEntry.SetText(fmt.Sprintf("%.3f", m.NoiseLevel))

	ecgAmplitudeEntry := widget.NewEntry()
	ecgAmplitudeEntry.SetText(fmt.Sprintf("%.2f", m.ECGAmplitude))

	ppgAmplitudeEntry := widget.NewEntry()
	ppgAmplitudeEntry.SetText(fmt.Sprintf("%.0f", m.PPGAmplitude))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Heart Rate (BPM)", Widget: heartRateEntry},
			{Text: "PTT", Widget: pttEntry},
			{Text: "Noise Level", Widget: noiseLevelEntry},
			{Text: "ECG Amplitude (mV)", Widget: ecgAmplitudeEntry},
			{Text: "PPG Amplitude (counts)", Widget: ppgAmplitudeEntry},
		},
		OnSubmit: func() {
			if v, err := strconv.ParseFloat(heartRateEntry.Text, 64); err == nil && v > 0 {
				m.HeartRate = v
			}
			if v, err := time.ParseDuration(pttEntry.Text); err == nil && v > 0 {
				m.PTT = v
			}
			if v, err := strconv.ParseFloat(noiseLevelEntry.Text, 64); err == nil && v >= 0 {
				m.NoiseLevel = v
			}
			if v, err := strconv.ParseFloat(ecgAmplitudeEntry.Text, 64); err == nil && v > 0 {
				m.ECGAmplitude = v
			}
			if v, err := strconv.ParseFloat(ppgAmplitudeEntry.Text, 64); err == nil && v > 0 {
				m.PPGAmplitude = v
			}
			state.saveConfig()

			if state.useMock {
				state.restartChain()
			}
		},
	}

	return container.NewTabItem("Mock", form)
}
