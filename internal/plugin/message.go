package plugin

import (
	"fmt"
	"strings"
)

// NextSteps is printed after a successful install.
func NextSteps(listen, apiKeyEnv string) string {
	var b strings.Builder
	b.WriteString("Roblox Studio bridge plugin is installed!\n\n")
	b.WriteString("Next steps:\n")
	fmt.Fprintf(&b, "1. Set the environment variable '%s' to your API key.\n", apiKeyEnv)
	b.WriteString("2. Start the server:\n")
	b.WriteString("   studiobridge serve\n")
	fmt.Fprintf(&b, "3. Open Roblox Studio and enable '%s' in the Plugins tab.\n", strings.TrimSuffix(ArtifactName, ".rbxm"))
	b.WriteString("4. Send a prompt, for example:\n\n")
	fmt.Fprintf(&b, "   curl -X POST http://%s/prompt \\\n", listen)
	b.WriteString("     -H \"Content-Type: application/json\" \\\n")
	b.WriteString("     -d '{\"prompt\": \"insert a red car\"}'\n\n")
	fmt.Fprintf(&b, "To uninstall, delete '%s' from your Roblox plugins directory.\n", ArtifactName)
	return b.String()
}
