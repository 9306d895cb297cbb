// Package assembler builds the Lua artifacts served to executors: the
// public loader stub and the per-request wrapper around an encoded
// payload. Every build uses fresh random identifier names, so no two
// served artifacts are byte-identical even for the same payload.
package assembler

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/flurs/keyserver/src/models"
)

// Assembler renders loader Lua. It is stateless apart from its config
// and safe for concurrent use.
type Assembler struct {
	cfg     *Config
	baseURL string
}

// New returns an Assembler serving artifacts that call back to baseURL,
// given without a trailing slash.
func New(cfg *Config, baseURL string) *Assembler {
	return &Assembler{cfg: cfg, baseURL: strings.TrimRight(baseURL, "/")}
}

// randIdent returns a Lua-safe identifier of the form _xxxxxxxx. The
// random suffix is why repeated assemblies of one payload differ.
func randIdent() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand only fails when the platform entropy source is
		// broken; the process cannot serve anything useful then.
		panic(fmt.Sprintf("assembler: entropy source unavailable: %v", err))
	}
	return "_" + hex.EncodeToString(buf[:])
}

// Stub renders the public loader for a payload. It carries no key and no
// payload content; it reads the consumer's key from a well-known global,
// collects the device fingerprint and calls back for the real artifact.
func (a *Assembler) Stub(hash string) string {
	env := randIdent()
	key := randIdent()
	hwid := randIdent()
	body := randIdent()
	chunk := randIdent()
	loadErr := randIdent()
	ok := randIdent()
	keyVar := a.cfg.Loader.KeyVariable

	var b strings.Builder
	fmt.Fprintf(&b, "-- %s\n", a.cfg.Branding.Name)
	fmt.Fprintf(&b, "local %s = (getgenv and getgenv()) or _G\n", env)
	fmt.Fprintf(&b, "local %s = %s.%s\n", key, env, keyVar)
	fmt.Fprintf(&b, "if type(%s) ~= \"string\" or %s == \"\" then\n", key, key)
	fmt.Fprintf(&b, "    error(\"[%s] %s\", 0)\n", a.cfg.Branding.Name, a.cfg.Messages.MissingKey)
	b.WriteString("end\n")
	fmt.Fprintf(&b, "local %s = \"unknown\"\n", hwid)
	fmt.Fprintf(&b, "pcall(function()\n")
	fmt.Fprintf(&b, "    if gethwid then\n")
	fmt.Fprintf(&b, "        %s = gethwid()\n", hwid)
	fmt.Fprintf(&b, "    elseif game then\n")
	fmt.Fprintf(&b, "        %s = game:GetService(\"RbxAnalyticsService\").ClientId\n", hwid)
	b.WriteString("    end\n")
	b.WriteString("end)\n")
	fmt.Fprintf(&b, "local %s, %s = pcall(function()\n", ok, body)
	fmt.Fprintf(&b, "    return game:HttpGet(%q .. \"?key=\" .. %s .. \"&hwid=\" .. %s, true)\n",
		a.baseURL+"/loader/"+hash+".lua", key, hwid)
	b.WriteString("end)\n")
	fmt.Fprintf(&b, "if not %s then\n", ok)
	fmt.Fprintf(&b, "    error(\"[%s] %s\", 0)\n", a.cfg.Branding.Name, a.cfg.Messages.FetchFailed)
	b.WriteString("end\n")
	fmt.Fprintf(&b, "local %s, %s = loadstring(%s)\n", chunk, loadErr, body)
	fmt.Fprintf(&b, "if not %s then\n", chunk)
	fmt.Fprintf(&b, "    error(\"[%s] \" .. tostring(%s), 0)\n", a.cfg.Branding.Name, loadErr)
	b.WriteString("end\n")
	fmt.Fprintf(&b, "%s()\n", chunk)
	return b.String()
}

// Wrapper renders the protected artifact around a payload's encoded
// bytes. The wrapper decodes client-side with the payload's seed and
// then either runs the plaintext directly (inline) or treats it as a
// URL to fetch and run (indirection).
func (a *Assembler) Wrapper(p *models.ProtectedPayload) (string, error) {
	data := randIdent()
	xor := randIdent()
	seed := randIdent()
	state := randIdent()
	out := randIdent()
	i := randIdent()
	text := randIdent()
	chunk := randIdent()
	loadErr := randIdent()

	hi := p.Seed >> 16
	lo := p.Seed & 0xFFFF

	var b strings.Builder
	fmt.Fprintf(&b, "-- %s\n", a.cfg.Branding.Name)
	if p.Label != "" {
		fmt.Fprintf(&b, "-- %s\n", p.Label)
	}
	b.WriteString("do\n")
	fmt.Fprintf(&b, "    local %s = {%s}\n", data, luaByteList(p.Encoded))
	fmt.Fprintf(&b, "    local %s = (bit32 and bit32.bxor) or function(x, y)\n", xor)
	b.WriteString("        local r, m = 0, 1\n")
	b.WriteString("        while x > 0 or y > 0 do\n")
	b.WriteString("            if (x % 2) ~= (y % 2) then r = r + m end\n")
	b.WriteString("            x = math.floor(x / 2)\n")
	b.WriteString("            y = math.floor(y / 2)\n")
	b.WriteString("            m = m * 2\n")
	b.WriteString("        end\n")
	b.WriteString("        return r\n")
	b.WriteString("    end\n")
	fmt.Fprintf(&b, "    local %s = (bit32 and bit32.bor(bit32.lshift(%d, 16), %d)) or (%d * 65536 + %d)\n",
		seed, hi, lo, hi, lo)
	fmt.Fprintf(&b, "    local %s = %s\n", state, seed)
	fmt.Fprintf(&b, "    local %s = {}\n", out)
	fmt.Fprintf(&b, "    for %s = 1, #%s do\n", i, data)
	fmt.Fprintf(&b, "        %s = (%s * 1664525 + 1013904223) %% 4294967296\n", state, state)
	fmt.Fprintf(&b, "        %s[%s] = string.char(%s(%s[%s], %s %% 256))\n", out, i, xor, data, i, state)
	b.WriteString("    end\n")
	fmt.Fprintf(&b, "    local %s = table.concat(%s)\n", text, out)

	switch p.Kind {
	case models.PayloadKindInline:
		fmt.Fprintf(&b, "    local %s, %s = loadstring(%s)\n", chunk, loadErr, text)
	case models.PayloadKindIndirection:
		fmt.Fprintf(&b, "    local %s, %s = loadstring(game:HttpGet(%s, true))\n", chunk, loadErr, text)
	default:
		return "", fmt.Errorf("unknown payload kind %q", p.Kind)
	}

	fmt.Fprintf(&b, "    if not %s then\n", chunk)
	fmt.Fprintf(&b, "        error(\"[%s] \" .. tostring(%s), 0)\n", a.cfg.Branding.Name, loadErr)
	b.WriteString("    end\n")
	fmt.Fprintf(&b, "    %s()\n", chunk)
	b.WriteString("end\n")
	return b.String(), nil
}

// Denied renders a short Lua chunk that surfaces a rejection to the
// consumer without leaking anything server-side.
func (a *Assembler) Denied(message string) string {
	return fmt.Sprintf("error(\"[%s] %s\", 0)\n", a.cfg.Branding.Name, message)
}

// luaByteList formats encoded bytes as a comma-separated Lua table body,
// wrapped so huge payloads stay readable in transit dumps.
func luaByteList(encoded []byte) string {
	var b strings.Builder
	for i, v := range encoded {
		if i > 0 {
			if i%32 == 0 {
				b.WriteString(",\n        ")
			} else {
				b.WriteByte(',')
			}
		}
		b.WriteString(strconv.Itoa(int(v)))
	}
	return b.String()
}
