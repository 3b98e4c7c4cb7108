package dtc

// descriptions covers the codes a roadside scan turns up most often.
var descriptions = map[string]string{
	// Powertrain
	"P0101": "Mass Air Flow Circuit Range/Performance",
	"P0102": "Mass Air Flow Circuit Low Input",
	"P0103": "Mass Air Flow Circuit High Input",
	"P0113": "Intake Air Temperature Sensor Circuit High Input",
	"P0118": "Engine Coolant Temperature Circuit High Input",
	"P0128": "Coolant Thermostat Below Regulating Temperature",
	"P0131": "O2 Sensor Circuit Low Voltage (Bank 1, Sensor 1)",
	"P0133": "O2 Sensor Circuit Slow Response (Bank 1, Sensor 1)",
	"P0171": "System Too Lean (Bank 1)",
	"P0172": "System Too Rich (Bank 1)",
	"P0174": "System Too Lean (Bank 2)",
	"P0175": "System Too Rich (Bank 2)",
	"P0300": "Random/Multiple Cylinder Misfire Detected",
	"P0301": "Cylinder 1 Misfire Detected",
	"P0302": "Cylinder 2 Misfire Detected",
	"P0303": "Cylinder 3 Misfire Detected",
	"P0304": "Cylinder 4 Misfire Detected",
	"P0401": "Exhaust Gas Recirculation Flow Insufficient",
	"P0402": "Exhaust Gas Recirculation Flow Excessive",
	"P0420": "Catalyst System Efficiency Below Threshold (Bank 1)",
	"P0430": "Catalyst System Efficiency Below Threshold (Bank 2)",
	"P0440": "Evaporative Emission Control System Malfunction",
	"P0442": "Evaporative Emission Control System Leak Detected (Small)",
	"P0455": "Evaporative Emission Control System Leak Detected (Large)",
	"P0500": "Vehicle Speed Sensor Malfunction",
	"P0505": "Idle Control System Malfunction",
	"P0562": "System Voltage Low",
	"P0563": "System Voltage High",
	"P0601": "Internal Control Module Memory Check Sum Error",
	"P0603": "Internal Control Module Keep Alive Memory Error",

	// Chassis
	"C0035": "Left Front Wheel Speed Sensor Circuit",
	"C0121": "ABS Valve Relay Circuit Malfunction",

	// Body
	"B1000": "Body Control Module Malfunction",
	"B1342": "ECU Internal Failure",
	"B1600": "Ignition Switch Malfunction",

	// Network
	"U0001": "High Speed CAN Communication Bus",
	"U0100": "Lost Communication With ECM/PCM",
	"U0101": "Lost Communication With TCM",
	"U0121": "Lost Communication With ABS Module",
	"U0140": "Lost Communication With Body Control Module",
	"U0155": "Lost Communication With Instrument Cluster",
	"U2103": "Fewer Controllers on the Bus Than Programmed",
}

// Describe returns the description for a code, falling back to its
// system category when the code is not in the table.
func Describe(code string) string {
	if desc, ok := descriptions[code]; ok {
		return desc
	}
	if len(code) == 0 {
		return "Unknown Code"
	}
	switch code[0] {
	case 'P':
		return "Unknown Powertrain Code"
	case 'C':
		return "Unknown Chassis Code"
	case 'B':
		return "Unknown Body Code"
	case 'U':
		return "Unknown Network Code"
	}
	return "Unknown Code"
}
